package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glyphcast/glyphcast/internal/frame"
	"github.com/glyphcast/glyphcast/internal/session"
	"github.com/glyphcast/glyphcast/internal/source"
)

var (
	ErrTooManyConnections = errors.New("too many connections")
	ErrSendBufferFull     = errors.New("send buffer full")
	ErrViewerClosed       = errors.New("viewer closed")
)

// Viewer is one connected consumer of the stream. Sends must not block.
type Viewer interface {
	ID() string
	SendFrame(data []byte) error
	SendEvent(data []byte) error
	Close()
}

// Options configures a Broadcaster.
type Options struct {
	Cooldown       time.Duration // minimum gap between accepted watch requests
	IdleInterval   time.Duration // Step delay while nothing is playing
	MaxConnections int           // 0 means unlimited
	Opener         source.Opener
	Pipeline       session.Transcoder
	Session        session.Options
	Logger         *slog.Logger
	Now            func() time.Time
}

// Broadcaster owns the single active session and fans its frames out to
// every viewer. Lock order: mu, then viewersMu.
type Broadcaster struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	current      *session.Session
	lastAccepted time.Time

	viewersMu sync.RWMutex
	viewers   map[Viewer]bool

	seq       atomic.Uint64
	published atomic.Uint64

	events      chan<- session.Event // nil disables event emission
	dropMu      sync.Mutex
	dropped     int64
	lastDropLog time.Time
}

func NewBroadcaster(opts Options) *Broadcaster {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = time.Second
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = opts.Logger
	}
	if opts.Session.Now == nil {
		opts.Session.Now = opts.Now
	}
	return &Broadcaster{
		opts:    opts,
		logger:  opts.Logger,
		now:     opts.Now,
		viewers: make(map[Viewer]bool),
	}
}

// SetEvents configures a channel for session lifecycle events. Sends never
// block; events are dropped when the consumer falls behind. Pass nil to
// disable. Must be called before Run.
func (b *Broadcaster) SetEvents(ch chan<- session.Event) {
	b.events = ch
}

// Pace is the delay between emission ticks for a source running at fps.
func Pace(fps float64) time.Duration {
	return time.Duration(float64(time.Second) / (fps + 0.0001))
}

// Request asks to switch the stream to url on behalf of v. It is accepted
// only when the cooldown since the last accepted request has elapsed; the
// previous session is stopped and a new one installed. Rejections are logged
// and otherwise ignored.
func (b *Broadcaster) Request(url string, v Viewer) bool {
	return b.request(url, v) == ""
}

// request returns the rejection reason, or "" when accepted.
func (b *Broadcaster) request(url string, v Viewer) string {
	url = strings.TrimSpace(url)
	who := ""
	if v != nil {
		who = v.ID()
	}
	if url == "" {
		b.logger.Debug("watch request rejected", "viewer", who, "reason", "empty url")
		return "empty url"
	}

	now := b.now()
	b.mu.Lock()
	if !b.lastAccepted.IsZero() && now.Sub(b.lastAccepted) <= b.opts.Cooldown {
		b.mu.Unlock()
		b.logger.Debug("watch request rejected", "viewer", who, "url", url, "reason", "cooldown")
		return "cooldown"
	}
	b.viewersMu.RLock()
	empty := len(b.viewers) == 0
	b.viewersMu.RUnlock()
	if empty {
		b.mu.Unlock()
		b.logger.Debug("watch request rejected", "viewer", who, "url", url, "reason", "no viewers")
		return "no viewers"
	}

	old := b.current
	s := session.New(url, b.opts.Opener, b.opts.Pipeline, b.opts.Session)
	b.current = s
	b.lastAccepted = now
	b.mu.Unlock()

	b.logger.Info("watch request accepted", "viewer", who, "url", url, "session", s.ID())
	if old != nil {
		old.StopWithReason("replaced")
		b.emit(session.EventEnded, old)
	}
	b.emit(session.EventStarted, s)
	b.broadcastStatus("started", "")
	return ""
}

// AddViewer registers v and sends it the current status.
func (b *Broadcaster) AddViewer(v Viewer) error {
	b.viewersMu.Lock()
	if b.opts.MaxConnections > 0 && len(b.viewers) >= b.opts.MaxConnections {
		b.viewersMu.Unlock()
		return ErrTooManyConnections
	}
	b.viewers[v] = true
	b.viewersMu.Unlock()

	b.logger.Info("viewer connected", "viewer", v.ID(), "viewers", b.ViewerCount())
	b.broadcastStatus("viewers", "")
	return nil
}

// RemoveViewer unregisters and closes v. When the last viewer leaves the
// active session is stopped. Removing an unknown viewer is a no-op.
func (b *Broadcaster) RemoveViewer(v Viewer) {
	b.mu.Lock()
	b.viewersMu.Lock()
	_, ok := b.viewers[v]
	delete(b.viewers, v)
	remaining := len(b.viewers)
	b.viewersMu.Unlock()

	var stopped *session.Session
	if ok && remaining == 0 && b.current != nil {
		stopped = b.current
		b.current = nil
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	v.Close()
	b.logger.Info("viewer disconnected", "viewer", v.ID(), "viewers", remaining)

	if stopped != nil {
		stopped.StopWithReason("no viewers")
		b.emit(session.EventEnded, stopped)
		return
	}
	b.broadcastStatus("viewers", "")
}

// ViewerCount returns the number of connected viewers.
func (b *Broadcaster) ViewerCount() int {
	b.viewersMu.RLock()
	defer b.viewersMu.RUnlock()
	return len(b.viewers)
}

// Current returns the installed session, or nil.
func (b *Broadcaster) Current() *session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Step runs one emission tick and returns how long to wait before the next.
func (b *Broadcaster) Step(ctx context.Context) time.Duration {
	s := b.Current()
	if s == nil {
		return b.opts.IdleInterval
	}

	if err := s.Advance(ctx); err != nil {
		b.mu.Lock()
		cleared := b.current == s
		if cleared {
			b.current = nil
		}
		b.mu.Unlock()

		if cleared {
			b.logger.Warn("session ended", "session", s.ID(), "url", s.URL(), "error", err)
			b.emit(session.EventEnded, s)
			b.broadcastStatus("ended", err.Error())
		}
		return b.opts.IdleInterval
	}

	if f, ok := s.TakePending(); ok && b.Current() == s {
		data, err := frame.Encode(f)
		if err != nil {
			b.logger.Error("frame encode failed", "session", s.ID(), "error", err)
		} else {
			b.publish(data)
		}
	}
	return Pace(s.Framerate())
}

// Run loops Step until ctx is done, then stops the active session.
func (b *Broadcaster) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case <-timer.C:
			timer.Reset(b.Step(ctx))
		}
	}
}

func (b *Broadcaster) shutdown() {
	b.mu.Lock()
	s := b.current
	b.current = nil
	b.mu.Unlock()
	if s != nil {
		s.StopWithReason("shutdown")
		b.emit(session.EventEnded, s)
	}
}

func (b *Broadcaster) viewerList() []Viewer {
	b.viewersMu.RLock()
	defer b.viewersMu.RUnlock()
	out := make([]Viewer, 0, len(b.viewers))
	for v := range b.viewers {
		out = append(out, v)
	}
	return out
}

func (b *Broadcaster) publish(data []byte) {
	for _, v := range b.viewerList() {
		if err := v.SendFrame(data); err != nil {
			b.logger.Warn("viewer too slow, disconnecting", "viewer", v.ID(), "error", err)
			b.RemoveViewer(v)
		}
	}
	b.published.Add(1)
}

// Status reports the broadcaster's current state.
func (b *Broadcaster) Status() StatusPayload {
	b.mu.Lock()
	s := b.current
	last := b.lastAccepted
	b.mu.Unlock()

	st := StatusPayload{
		Viewers:         b.ViewerCount(),
		FramesPublished: b.published.Load(),
	}
	if s != nil {
		snap := s.Snapshot()
		st.Session = &snap
	}
	if !last.IsZero() {
		if left := b.opts.Cooldown - b.now().Sub(last); left > 0 {
			st.CooldownRemaining = left.Seconds()
		}
	}
	return st
}

func (b *Broadcaster) message(t MessageType, payload interface{}) ([]byte, error) {
	return json.Marshal(WSMessage{Type: t, Seq: b.seq.Add(1), Payload: payload})
}

func (b *Broadcaster) broadcastStatus(event, reason string) {
	st := b.Status()
	st.Event = event
	st.Reason = reason
	data, err := b.message(MsgStatus, st)
	if err != nil {
		b.logger.Error("status marshal failed", "error", err)
		return
	}
	for _, v := range b.viewerList() {
		if err := v.SendEvent(data); err != nil {
			b.logger.Warn("viewer too slow, disconnecting", "viewer", v.ID(), "error", err)
			b.RemoveViewer(v)
		}
	}
}

// sendError tells one viewer why its request was not honored.
func (b *Broadcaster) sendError(v Viewer, code, message string) {
	data, err := b.message(MsgError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	if err := v.SendEvent(data); err != nil {
		b.RemoveViewer(v)
	}
}

// HandleText processes an inbound text message from v.
func (b *Broadcaster) HandleText(v Viewer, data []byte) {
	url := ParseWatch(data)
	if reason := b.request(url, v); reason != "" {
		b.sendError(v, strings.ReplaceAll(reason, " ", "_"), "watch request rejected: "+reason)
	}
}

// emit sends a lifecycle event to the events channel if configured. Dropped
// events are counted and logged at most once every 10 seconds.
func (b *Broadcaster) emit(t session.EventType, s *session.Session) {
	if b.events == nil {
		return
	}
	ev := session.Event{Type: t, Snapshot: s.Snapshot(), Viewers: b.ViewerCount()}
	select {
	case b.events <- ev:
	default:
		b.dropMu.Lock()
		b.dropped++
		now := b.now()
		if b.lastDropLog.IsZero() || now.Sub(b.lastDropLog) >= 10*time.Second {
			b.logger.Warn("session events dropped", "count", b.dropped)
			b.dropped = 0
			b.lastDropLog = now
		}
		b.dropMu.Unlock()
	}
}
