package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glyphcast/glyphcast/internal/frame"
	"github.com/glyphcast/glyphcast/internal/session"
	"github.com/glyphcast/glyphcast/internal/source"
	"github.com/glyphcast/glyphcast/internal/transcode"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeViewer struct {
	id       string
	failSend bool

	mu     sync.Mutex
	frames [][]byte
	events []WSMessage
	closed int
}

func newFakeViewer(id string) *fakeViewer {
	return &fakeViewer{id: id}
}

func (v *fakeViewer) ID() string { return v.id }

func (v *fakeViewer) SendFrame(data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failSend {
		return ErrSendBufferFull
	}
	v.frames = append(v.frames, data)
	return nil
}

func (v *fakeViewer) SendEvent(data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failSend {
		return ErrSendBufferFull
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	v.events = append(v.events, msg)
	return nil
}

func (v *fakeViewer) Close() {
	v.mu.Lock()
	v.closed++
	v.mu.Unlock()
}

func (v *fakeViewer) frameCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.frames)
}

func (v *fakeViewer) closeCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// lastEvent returns the payload of the most recent text message as a map.
func (v *fakeViewer) lastEvent(t *testing.T) (MessageType, map[string]interface{}) {
	t.Helper()
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.events) == 0 {
		t.Fatalf("viewer %s received no events", v.id)
	}
	msg := v.events[len(v.events)-1]
	payload, _ := msg.Payload.(map[string]interface{})
	return msg.Type, payload
}

// trackedSource wraps a synthetic source and counts Close calls.
type trackedSource struct {
	source.Source
	mu     sync.Mutex
	closes int
}

func (s *trackedSource) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return s.Source.Close()
}

func (s *trackedSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// trackingOpener opens synthetic sources and remembers every handle.
type trackingOpener struct {
	mu      sync.Mutex
	sources []*trackedSource
}

func (o *trackingOpener) Open(ctx context.Context, url string) (source.Source, error) {
	src, err := source.Synthetic{Width: 32, Height: 16}.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	ts := &trackedSource{Source: src}
	o.mu.Lock()
	o.sources = append(o.sources, ts)
	o.mu.Unlock()
	return ts, nil
}

func (o *trackingOpener) opened() []*trackedSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*trackedSource(nil), o.sources...)
}

func testPipeline(t *testing.T) *transcode.Pipeline {
	t.Helper()
	p, err := transcode.New(transcode.Options{
		SymbolWidth: 2, SymbolHeight: 4, GridWidth: 8, GridHeight: 4, PaletteSize: 8,
	})
	if err != nil {
		t.Fatalf("transcode.New: %v", err)
	}
	return p
}

func newTestBroadcaster(t *testing.T, clock *fakeClock, opener source.Opener) *Broadcaster {
	t.Helper()
	if opener == nil {
		opener = source.Synthetic{Width: 32, Height: 16}
	}
	return NewBroadcaster(Options{
		Cooldown:     5 * time.Second,
		IdleInterval: time.Second,
		Opener:       opener,
		Pipeline:     testPipeline(t),
		Session:      session.Options{Decimation: 1, FallbackFramerate: 30},
		Now:          clock.Now,
	})
}

func TestPace(t *testing.T) {
	tests := []struct {
		fps  float64
		want time.Duration
	}{
		{30, 33333222 * time.Nanosecond},
		{1, 999900 * time.Microsecond},
		{0, 10000 * time.Second},
	}
	for _, tt := range tests {
		got := Pace(tt.fps)
		diff := got - tt.want
		if diff < 0 {
			diff = -diff
		}
		if diff > time.Microsecond {
			t.Errorf("Pace(%v) = %v, want ~%v", tt.fps, got, tt.want)
		}
	}
}

func TestStep_IdleWithoutSession(t *testing.T) {
	b := newTestBroadcaster(t, newFakeClock(), nil)
	v := newFakeViewer("v1")
	if err := b.AddViewer(v); err != nil {
		t.Fatalf("AddViewer: %v", err)
	}

	for i := 0; i < 3; i++ {
		if d := b.Step(context.Background()); d != time.Second {
			t.Errorf("Step() = %v, want idle interval 1s", d)
		}
	}
	if v.frameCount() != 0 {
		t.Errorf("frames = %d, want 0 while idle", v.frameCount())
	}
}

func TestRequest_Cooldown(t *testing.T) {
	clock := newFakeClock()
	b := newTestBroadcaster(t, clock, nil)
	v := newFakeViewer("v1")
	b.AddViewer(v)

	if !b.Request("synthetic://bars", v) {
		t.Fatal("first request should be accepted")
	}
	first := b.Current()

	clock.Advance(100 * time.Millisecond)
	if b.Request("synthetic://gradient", v) {
		t.Fatal("request 0.1s later should be rejected")
	}
	if b.Current() != first {
		t.Fatal("rejected request must not replace the session")
	}
	if st := b.Status(); st.CooldownRemaining <= 4.8 || st.CooldownRemaining > 5 {
		t.Errorf("CooldownRemaining = %v, want ~4.9", st.CooldownRemaining)
	}

	clock.Advance(5900 * time.Millisecond)
	if !b.Request("synthetic://gradient", v) {
		t.Fatal("request 6s after the first should be accepted")
	}
	if got := b.Current().URL(); got != "synthetic://gradient" {
		t.Errorf("current url = %q, want synthetic://gradient", got)
	}
	if first.State() != session.Stopped {
		t.Errorf("replaced session state = %v, want stopped", first.State())
	}
}

func TestRequest_CooldownBoundary(t *testing.T) {
	clock := newFakeClock()
	b := newTestBroadcaster(t, clock, nil)
	v := newFakeViewer("v1")
	b.AddViewer(v)

	b.Request("synthetic://bars", v)
	clock.Advance(5 * time.Second)
	if b.Request("synthetic://gradient", v) {
		t.Error("request exactly at the cooldown should be rejected")
	}
	clock.Advance(time.Millisecond)
	if !b.Request("synthetic://gradient", v) {
		t.Error("request just past the cooldown should be accepted")
	}
}

func TestRequest_BlankURL(t *testing.T) {
	clock := newFakeClock()
	b := newTestBroadcaster(t, clock, nil)
	v := newFakeViewer("v1")
	b.AddViewer(v)

	if b.Request("   ", v) {
		t.Fatal("blank url should be rejected")
	}
	if !b.Request("synthetic://bars", v) {
		t.Fatal("blank url must not start the cooldown")
	}
}

func TestRequest_NoViewers(t *testing.T) {
	b := newTestBroadcaster(t, newFakeClock(), nil)
	if b.Request("synthetic://bars", nil) {
		t.Fatal("request with no viewers should be rejected")
	}
	if b.Current() != nil {
		t.Fatal("no session should be installed")
	}
}

func TestRemoveViewer_EmptyRoomTeardown(t *testing.T) {
	opener := &trackingOpener{}
	b := newTestBroadcaster(t, newFakeClock(), opener)
	v1, v2 := newFakeViewer("v1"), newFakeViewer("v2")
	b.AddViewer(v1)
	b.AddViewer(v2)

	b.Request("synthetic://bars", v1)
	s := b.Current()
	if s == nil {
		t.Fatal("expected an installed session")
	}
	b.Step(context.Background())

	b.RemoveViewer(v1)
	if b.Current() != s {
		t.Fatal("session should survive while a viewer remains")
	}

	b.RemoveViewer(v2)
	if b.Current() != nil {
		t.Fatal("slot should be cleared once the room is empty")
	}
	if s.State() != session.Stopped {
		t.Errorf("session state = %v, want stopped", s.State())
	}
	srcs := opener.opened()
	if len(srcs) != 1 {
		t.Fatalf("opened %d sources, want 1", len(srcs))
	}
	if n := srcs[0].closeCount(); n != 1 {
		t.Errorf("source closed %d times, want 1", n)
	}

	b.RemoveViewer(v2)
	if v2.closeCount() != 1 {
		t.Errorf("viewer closed %d times, want 1", v2.closeCount())
	}
	if d := b.Step(context.Background()); d != time.Second {
		t.Errorf("Step() after teardown = %v, want idle", d)
	}
	if n := srcs[0].closeCount(); n != 1 {
		t.Errorf("source closed %d times after a second removal, want 1", n)
	}
}

func TestStep_PublishesFrames(t *testing.T) {
	b := newTestBroadcaster(t, newFakeClock(), nil)
	v := newFakeViewer("v1")
	b.AddViewer(v)
	b.Request("synthetic://bars?fps=25", v)

	d := b.Step(context.Background())
	if d != Pace(25) {
		t.Errorf("Step() = %v, want Pace(25) = %v", d, Pace(25))
	}
	if v.frameCount() != 1 {
		t.Fatalf("frames = %d, want 1", v.frameCount())
	}

	v.mu.Lock()
	data := v.frames[0]
	v.mu.Unlock()
	f, err := frame.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Width != 8 || f.Height != 4 {
		t.Errorf("grid = %dx%d, want 8x4", f.Width, f.Height)
	}
	if st := b.Status(); st.FramesPublished != 1 || st.Session == nil || st.Session.State != session.Active {
		t.Errorf("status = %+v, want 1 frame and an active session", st)
	}
}

func TestStep_SourceEndClearsSlot(t *testing.T) {
	b := newTestBroadcaster(t, newFakeClock(), nil)
	v := newFakeViewer("v1")
	b.AddViewer(v)
	b.Request("synthetic://bars?frames=1", v)

	b.Step(context.Background())
	if d := b.Step(context.Background()); d != time.Second {
		t.Errorf("Step() at end of stream = %v, want idle", d)
	}
	if b.Current() != nil {
		t.Fatal("slot should be cleared when the source ends")
	}
	typ, payload := v.lastEvent(t)
	if typ != MsgStatus || payload["event"] != "ended" {
		t.Errorf("last event = %s %v, want status/ended", typ, payload)
	}
}

func TestStep_OpenFailureClearsSlot(t *testing.T) {
	opener := source.OpenerFunc(func(context.Context, string) (source.Source, error) {
		return nil, errors.New("no such stream")
	})
	b := newTestBroadcaster(t, newFakeClock(), opener)
	v := newFakeViewer("v1")
	b.AddViewer(v)
	b.Request("https://example.com/missing", v)

	if d := b.Step(context.Background()); d != time.Second {
		t.Errorf("Step() = %v, want idle", d)
	}
	if b.Current() != nil {
		t.Fatal("slot should be cleared after an open failure")
	}
	_, payload := v.lastEvent(t)
	if reason, _ := payload["reason"].(string); reason == "" {
		t.Error("ended status should carry a reason")
	}
}

func TestPublish_SlowViewerRemoved(t *testing.T) {
	b := newTestBroadcaster(t, newFakeClock(), nil)
	fast, slow := newFakeViewer("fast"), newFakeViewer("slow")
	b.AddViewer(fast)
	b.AddViewer(slow)
	b.Request("synthetic://bars", fast)

	slow.mu.Lock()
	slow.failSend = true
	slow.mu.Unlock()

	b.Step(context.Background())
	if b.ViewerCount() != 1 {
		t.Fatalf("ViewerCount() = %d, want 1", b.ViewerCount())
	}
	if slow.closeCount() != 1 {
		t.Errorf("slow viewer closed %d times, want 1", slow.closeCount())
	}
	if fast.frameCount() != 1 {
		t.Errorf("fast viewer frames = %d, want 1", fast.frameCount())
	}
	if b.Current() == nil {
		t.Error("session should keep running for the remaining viewer")
	}
}

func TestAddViewer_MaxConnections(t *testing.T) {
	b := NewBroadcaster(Options{MaxConnections: 2})
	for i := 0; i < 2; i++ {
		if err := b.AddViewer(newFakeViewer(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("AddViewer[%d]: %v", i, err)
		}
	}
	if err := b.AddViewer(newFakeViewer("extra")); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("AddViewer over limit = %v, want ErrTooManyConnections", err)
	}
	if b.ViewerCount() != 2 {
		t.Errorf("ViewerCount() = %d, want 2", b.ViewerCount())
	}
}

func TestAddViewer_SendsStatus(t *testing.T) {
	b := newTestBroadcaster(t, newFakeClock(), nil)
	v := newFakeViewer("v1")
	b.AddViewer(v)

	typ, payload := v.lastEvent(t)
	if typ != MsgStatus {
		t.Fatalf("type = %s, want status", typ)
	}
	if payload["viewers"] != float64(1) {
		t.Errorf("viewers = %v, want 1", payload["viewers"])
	}
}

func TestEvents(t *testing.T) {
	clock := newFakeClock()
	b := newTestBroadcaster(t, clock, nil)
	ch := make(chan session.Event, 8)
	b.SetEvents(ch)
	v := newFakeViewer("v1")
	b.AddViewer(v)

	b.Request("synthetic://bars", v)
	clock.Advance(6 * time.Second)
	b.Request("synthetic://gradient", v)

	want := []struct {
		typ session.EventType
		url string
	}{
		{session.EventStarted, "synthetic://bars"},
		{session.EventEnded, "synthetic://bars"},
		{session.EventStarted, "synthetic://gradient"},
	}
	for i, w := range want {
		select {
		case ev := <-ch:
			if ev.Type != w.typ || ev.Snapshot.URL != w.url {
				t.Errorf("event %d = %v %s, want %v %s", i, ev.Type, ev.Snapshot.URL, w.typ, w.url)
			}
		default:
			t.Fatalf("event %d missing", i)
		}
	}
}

func TestEvents_DropWhenFull(t *testing.T) {
	b := newTestBroadcaster(t, newFakeClock(), nil)
	b.SetEvents(make(chan session.Event))
	v := newFakeViewer("v1")
	b.AddViewer(v)

	done := make(chan struct{})
	go func() {
		b.Request("synthetic://bars", v)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Request blocked on a full events channel")
	}
}

func TestHandleText_RejectionSendsError(t *testing.T) {
	b := newTestBroadcaster(t, newFakeClock(), nil)
	v := newFakeViewer("v1")
	b.AddViewer(v)

	b.HandleText(v, []byte(`{"type":"watch","url":"synthetic://bars"}`))
	if b.Current() == nil || b.Current().URL() != "synthetic://bars" {
		t.Fatal("JSON watch request should be accepted")
	}

	b.HandleText(v, []byte("synthetic://gradient"))
	typ, payload := v.lastEvent(t)
	if typ != MsgError || payload["code"] != "cooldown" {
		t.Errorf("last event = %s %v, want error/cooldown", typ, payload)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	b := NewBroadcaster(Options{
		Cooldown:     time.Second,
		IdleInterval: 5 * time.Millisecond,
		Opener:       source.Synthetic{Width: 16, Height: 16},
		Pipeline:     testPipeline(t),
		Session:      session.Options{Decimation: 1},
	})
	v := newFakeViewer("v1")
	b.AddViewer(v)
	b.Request("synthetic://checker?fps=200", v)
	s := b.Current()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for v.frameCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("frames = %d after 2s, want >= 3", v.frameCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s.State() != session.Stopped {
		t.Errorf("session state = %v, want stopped", s.State())
	}
	if b.Current() != nil {
		t.Error("slot should be empty after Run returns")
	}
}

func TestParseWatch(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://example.com/live", "https://example.com/live"},
		{"  synthetic://bars \n", "synthetic://bars"},
		{`{"type":"watch","url":" synthetic://noise "}`, "synthetic://noise"},
		{`{"url":"synthetic://noise"}`, "synthetic://noise"},
		{`{"type":"ping"}`, ""},
		{`{broken`, ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ParseWatch([]byte(tt.in)); got != tt.want {
			t.Errorf("ParseWatch(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
