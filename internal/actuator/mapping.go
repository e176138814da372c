package actuator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/nerrad567/relaysync/internal/transport"
)

// SensorMapping describes an attached authoritative sensor (e.g. a reed
// switch on a garage door). Any reading equal to OpenValue maps to
// OpenPosition; everything else maps to ClosedPosition.
type SensorMapping struct {
	Param          string
	OpenValue      any
	OpenPosition   int
	ClosedPosition int
}

// Position maps a raw sensor reading to a position.
func (m SensorMapping) Position(reading any) int {
	if fmt.Sprint(reading) == fmt.Sprint(m.OpenValue) {
		return m.OpenPosition
	}
	return m.ClosedPosition
}

// ReportMapping names the fields of a self-reporting actuator.
// Either field may be empty.
type ReportMapping struct {
	CurrentField string
	TargetField  string
}

func (m ReportMapping) read(p transport.Params) (current float64, hasCurrent bool, target float64, hasTarget bool) {
	if m.CurrentField != "" {
		current, hasCurrent = number(p[m.CurrentField])
	}
	if m.TargetField != "" {
		target, hasTarget = number(p[m.TargetField])
	}
	return current, hasCurrent, target, hasTarget
}

// number converts a decoded JSON value to float64.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func clampPosition(p float64) float64 {
	return math.Max(0, math.Min(100, p))
}

func roundPosition(p float64) int {
	return int(math.Round(clampPosition(p)))
}

// sameWireValue compares two param values by their JSON encoding, so an
// int sent out matches the float64 it decodes to on the way back.
func sameWireValue(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	if string(ja) == string(jb) {
		return true
	}
	// Re-decode to normalise numeric and nested representations.
	var da, db any
	if json.Unmarshal(ja, &da) != nil || json.Unmarshal(jb, &db) != nil {
		return false
	}
	na, _ := json.Marshal(da)
	nb, _ := json.Marshal(db)
	return string(na) == string(nb)
}
