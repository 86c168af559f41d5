package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/glyphcast/glyphcast/internal/session"
)

const writeTimeout = 5 * time.Second

// Recorder writes session lifecycle events to a Store. It receives events
// on a channel so the broadcaster never waits on the database.
type Recorder struct {
	store  *Store
	events chan session.Event
	logger *slog.Logger
}

// NewRecorder returns a recorder and the send-only channel to deliver events
// on. The caller must run Run in a goroutine.
func NewRecorder(store *Store, logger *slog.Logger) (*Recorder, chan<- session.Event) {
	if logger == nil {
		logger = slog.Default()
	}
	ch := make(chan session.Event, 64)
	return &Recorder{store: store, events: ch, logger: logger}, ch
}

// Run records events until ctx is cancelled, then flushes whatever is still
// queued.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case ev := <-r.events:
			r.record(ev)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case ev := <-r.events:
			r.record(ev)
		default:
			return
		}
	}
}

func (r *Recorder) record(ev session.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.Record(ctx, ev); err != nil {
		r.logger.Warn("history write failed", "session", ev.Snapshot.ID, "event", ev.Type.String(), "error", err)
		return
	}
	r.logger.Debug("history recorded", "session", ev.Snapshot.ID, "event", ev.Type.String())
}
