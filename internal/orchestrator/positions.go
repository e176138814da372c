package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/relaysync/internal/device"
)

// positionWriter persists actuator positions on its own goroutine so the
// notification path (which can be the broker's delivery goroutine) never
// waits on SQLite. Pending writes coalesce per device: only the latest
// position is saved.
type positionWriter struct {
	store   device.PositionRepository
	timeout time.Duration
	logger  Logger

	mu      sync.Mutex
	idle    *sync.Cond
	pending map[string]device.Position
	busy    bool
	stopped bool

	wake     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newPositionWriter(store device.PositionRepository, timeout time.Duration, logger Logger) *positionWriter {
	w := &positionWriter{
		store:   store,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]device.Position),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.idle = sync.NewCond(&w.mu)

	w.wg.Add(1)
	go w.run()
	return w
}

func (w *positionWriter) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			w.drain()
			return
		case <-w.wake:
			w.drain()
		}
	}
}

func (w *positionWriter) drain() {
	for {
		w.mu.Lock()
		if len(w.pending) == 0 {
			w.busy = false
			w.idle.Broadcast()
			w.mu.Unlock()
			return
		}
		batch := w.pending
		w.pending = make(map[string]device.Position)
		w.busy = true
		w.mu.Unlock()

		for _, p := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
			err := w.store.SavePosition(ctx, p)
			cancel()
			if err != nil {
				w.logger.Warn("persisting position failed", "device_id", p.DeviceID, "error", err)
			}
		}
	}
}

// enqueue schedules p for saving. It never blocks.
func (w *positionWriter) enqueue(p device.Position) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.pending[p.DeviceID] = p
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// forget drops any unsaved position for deviceID and waits for writes
// already under way, so a later delete is not overwritten.
func (w *positionWriter) forget(deviceID string) {
	w.mu.Lock()
	delete(w.pending, deviceID)
	w.mu.Unlock()
	w.flush()
}

// flush waits until every enqueued position has been written.
func (w *positionWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for !w.stopped && (len(w.pending) > 0 || w.busy) {
		w.idle.Wait()
	}
}

// stop writes what is pending and ends the goroutine.
func (w *positionWriter) stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()

		w.mu.Lock()
		w.stopped = true
		w.idle.Broadcast()
		w.mu.Unlock()
	})
}
