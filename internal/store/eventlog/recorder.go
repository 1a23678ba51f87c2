package eventlog

import (
	"context"
	"time"

	"vela/internal/events"
	"vela/internal/logger"
)

// Recorder drains a bus subscription into the store. One goroutine, so
// writes stay ordered.
type Recorder struct {
	store *Store
	bus   *events.Bus
}

func NewRecorder(store *Store, bus *events.Bus) *Recorder {
	return &Recorder{store: store, bus: bus}
}

// Run blocks until the context ends or the bus closes. Persist failures are
// logged and skipped; the log is an audit trail, never a trading dependency.
func (r *Recorder) Run(ctx context.Context) {
	ch, cancel := r.bus.Subscribe(512)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.store.Append(wctx, ev); err != nil {
				logger.Warnf("eventlog: persist %s failed: %v", ev.Type, err)
			}
			wcancel()
		}
	}
}
