package cloud

import (
	"time"

	"github.com/nerrad567/relaysync/internal/transport"
)

// Ack statuses.
const (
	AckOK    = "ok"
	AckError = "error"
)

// CommandMessage is published on {prefix}/{id}/command.
type CommandMessage struct {
	ID        string           `json:"id"`
	DeviceID  string           `json:"device_id"`
	APIKey    string           `json:"api_key"`
	Params    transport.Params `json:"params"`
	Timestamp time.Time        `json:"timestamp"`
}

// QueryMessage is published on {prefix}/{id}/query to ask for a full
// state report. The report arrives on the state topic.
type QueryMessage struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	APIKey    string    `json:"api_key"`
	Timestamp time.Time `json:"timestamp"`
}

// AckMessage answers one CommandMessage, matched by ID.
type AckMessage struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StateMessage carries device params reported by the cloud. Online is
// set when the cloud piggybacks presence on a state report.
type StateMessage struct {
	Params transport.Params `json:"params"`
	Online *bool            `json:"online,omitempty"`
}

// OnlineMessage is the cloud's presence flag for one device.
type OnlineMessage struct {
	Online bool `json:"online"`
}
