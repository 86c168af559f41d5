package session

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glyphcast/glyphcast/internal/frame"
	"github.com/glyphcast/glyphcast/internal/source"
	"github.com/glyphcast/glyphcast/internal/transcode"
)

type fakeSource struct {
	frames  int // frames before io.EOF; <0 means endless
	fps     float64
	read    int
	closed  atomic.Int32
	block   chan struct{} // when set, Read waits on it
	readErr error
}

func (s *fakeSource) Read() (*image.RGBA, error) {
	if s.block != nil {
		<-s.block
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.frames >= 0 && s.read >= s.frames {
		return nil, io.EOF
	}
	s.read++
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (s *fakeSource) Framerate() float64 { return s.fps }

func (s *fakeSource) Close() error {
	if s.closed.Add(1) == 1 && s.block != nil {
		close(s.block)
	}
	return nil
}

type fakeOpener struct {
	src   *fakeSource
	err   error
	opens int
}

func (o *fakeOpener) Open(_ context.Context, _ string) (source.Source, error) {
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	return o.src, nil
}

type fakeTranscoder struct {
	calls int
}

func (t *fakeTranscoder) Transcode(image.Image) (*transcode.Output, error) {
	t.calls++
	return &transcode.Output{
		Frame: &frame.Frame{
			Palette:    frame.Palette{{R: 1, G: 2, B: 3}},
			Width:      1,
			Height:     1,
			Glyphs:     []byte{0},
			Foreground: []byte{0},
			Background: []byte{0},
		},
		Elapsed: time.Millisecond,
	}, nil
}

func TestNew_DoesNotOpen(t *testing.T) {
	o := &fakeOpener{src: &fakeSource{frames: -1}}
	s := New("synthetic://bars", o, &fakeTranscoder{}, Options{})
	if s.State() != Starting {
		t.Errorf("State() = %v, want starting", s.State())
	}
	if o.opens != 0 {
		t.Errorf("opener called %d times before Advance", o.opens)
	}
	if _, ok := s.TakePending(); ok {
		t.Error("new session should have no pending frame")
	}
}

func TestAdvance_DecimatesAndTakesPending(t *testing.T) {
	o := &fakeOpener{src: &fakeSource{frames: -1, fps: 25}}
	tc := &fakeTranscoder{}
	s := New("u", o, tc, Options{Decimation: 3})
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if err := s.Advance(ctx); err != nil {
			t.Fatalf("Advance %d: %v", i, err)
		}
		if _, ok := s.TakePending(); ok {
			t.Fatalf("Advance %d: unexpected pending frame", i)
		}
	}
	if s.State() != Active {
		t.Errorf("State() = %v, want active", s.State())
	}
	if err := s.Advance(ctx); err != nil {
		t.Fatalf("Advance 3: %v", err)
	}
	f, ok := s.TakePending()
	if !ok || f == nil {
		t.Fatal("expected pending frame after 3rd read")
	}
	if _, ok := s.TakePending(); ok {
		t.Error("TakePending should clear the pending flag")
	}
	if o.opens != 1 {
		t.Errorf("opens = %d, want 1", o.opens)
	}
	if tc.calls != 1 {
		t.Errorf("transcodes = %d, want 1", tc.calls)
	}

	snap := s.Snapshot()
	if snap.FramesRead != 3 || snap.FramesEncoded != 1 {
		t.Errorf("snapshot read/encoded = %d/%d, want 3/1", snap.FramesRead, snap.FramesEncoded)
	}
	if snap.Framerate != 25 {
		t.Errorf("snapshot framerate = %v, want 25", snap.Framerate)
	}
	if snap.GridWidth != 1 || snap.GridHeight != 1 {
		t.Errorf("snapshot grid = %dx%d, want 1x1", snap.GridWidth, snap.GridHeight)
	}
}

func TestAdvance_OpenFailure(t *testing.T) {
	o := &fakeOpener{err: errors.New("no such stream")}
	s := New("u", o, &fakeTranscoder{}, Options{})

	err := s.Advance(context.Background())
	if !errors.Is(err, ErrSourceOpen) {
		t.Fatalf("Advance error = %v, want ErrSourceOpen", err)
	}
	if s.State() != Stopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
	if err := s.Advance(context.Background()); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("second Advance error = %v, want ErrSessionStopped", err)
	}
	if o.opens != 1 {
		t.Errorf("opens = %d, want 1 (no retries)", o.opens)
	}
}

func TestAdvance_Exhausted(t *testing.T) {
	src := &fakeSource{frames: 1}
	s := New("u", &fakeOpener{src: src}, &fakeTranscoder{}, Options{Decimation: 1})
	ctx := context.Background()

	if err := s.Advance(ctx); err != nil {
		t.Fatalf("Advance 1: %v", err)
	}
	err := s.Advance(ctx)
	if !errors.Is(err, ErrSourceExhausted) {
		t.Fatalf("Advance 2 error = %v, want ErrSourceExhausted", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("Advance 2 error = %v, want it to wrap io.EOF", err)
	}
	if src.closed.Load() != 1 {
		t.Errorf("source closed %d times, want 1", src.closed.Load())
	}
	snap := s.Snapshot()
	if snap.State != Stopped || snap.EndedAt == nil || snap.EndReason == "" {
		t.Errorf("snapshot = %+v, want stopped with end time and reason", snap)
	}
}

func TestAdvance_ReadError(t *testing.T) {
	src := &fakeSource{frames: -1, readErr: errors.New("broken pipe")}
	s := New("u", &fakeOpener{src: src}, &fakeTranscoder{}, Options{})
	if err := s.Advance(context.Background()); !errors.Is(err, ErrSourceExhausted) {
		t.Errorf("Advance error = %v, want ErrSourceExhausted", err)
	}
}

func TestStop_Idempotent(t *testing.T) {
	src := &fakeSource{frames: -1}
	s := New("u", &fakeOpener{src: src}, &fakeTranscoder{}, Options{})
	if err := s.Advance(context.Background()); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	s.Stop()
	s.Stop()
	if src.closed.Load() != 1 {
		t.Errorf("source closed %d times, want 1", src.closed.Load())
	}
	if err := s.Advance(context.Background()); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("Advance after Stop = %v, want ErrSessionStopped", err)
	}
}

func TestStop_BeforeOpen(t *testing.T) {
	o := &fakeOpener{src: &fakeSource{frames: -1}}
	s := New("u", o, &fakeTranscoder{}, Options{})
	s.Stop()
	if err := s.Advance(context.Background()); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("Advance = %v, want ErrSessionStopped", err)
	}
	if o.opens != 0 {
		t.Errorf("opens = %d, want 0", o.opens)
	}
}

func TestStop_DuringRead(t *testing.T) {
	src := &fakeSource{frames: -1, block: make(chan struct{})}
	s := New("u", &fakeOpener{src: src}, &fakeTranscoder{}, Options{})

	var wg sync.WaitGroup
	var advanceErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		advanceErr = s.Advance(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !s.srcOpened() {
		if time.Now().After(deadline) {
			t.Fatal("source never opened")
		}
		time.Sleep(time.Millisecond)
	}

	s.Stop()
	wg.Wait()
	if !errors.Is(advanceErr, ErrSessionStopped) {
		t.Errorf("Advance error = %v, want ErrSessionStopped", advanceErr)
	}
	if _, ok := s.TakePending(); ok {
		t.Error("stopped session should not publish")
	}
}

func (s *Session) srcOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src != nil
}

func TestFramerate_Fallback(t *testing.T) {
	s := New("u", &fakeOpener{src: &fakeSource{frames: -1}}, &fakeTranscoder{}, Options{FallbackFramerate: 24})
	if s.Framerate() != 24 {
		t.Errorf("Framerate() before open = %v, want 24", s.Framerate())
	}
	if err := s.Advance(context.Background()); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if s.Framerate() != 24 {
		t.Errorf("Framerate() with rateless source = %v, want 24", s.Framerate())
	}

	s2 := New("u", &fakeOpener{src: &fakeSource{frames: -1, fps: 60}}, &fakeTranscoder{}, Options{})
	if s2.Framerate() != 30 {
		t.Errorf("default fallback = %v, want 30", s2.Framerate())
	}
	if err := s2.Advance(context.Background()); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if s2.Framerate() != 60 {
		t.Errorf("Framerate() = %v, want 60", s2.Framerate())
	}
}

func TestSession_SyntheticPipeline(t *testing.T) {
	p, err := transcode.New(transcode.Options{
		SymbolWidth: 2, SymbolHeight: 4, GridWidth: 10, GridHeight: 5, PaletteSize: 8,
	})
	if err != nil {
		t.Fatalf("transcode.New: %v", err)
	}
	s := New("synthetic://bars?size=64x48&frames=4", source.Synthetic{}, p, Options{Decimation: 2})
	ctx := context.Background()

	var frames int
	for {
		err := s.Advance(ctx)
		if errors.Is(err, ErrSourceExhausted) {
			break
		}
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if f, ok := s.TakePending(); ok {
			frames++
			if f.Width != 10 || f.Height != 5 {
				t.Errorf("grid = %dx%d, want 10x5", f.Width, f.Height)
			}
		}
	}
	if frames != 2 {
		t.Errorf("encoded frames = %d, want 2", frames)
	}
}

func TestDecimator(t *testing.T) {
	d := newDecimator(3)
	var kept []int
	for i := 1; i <= 9; i++ {
		if d.keep() {
			kept = append(kept, i)
		}
	}
	if len(kept) != 3 || kept[0] != 3 || kept[1] != 6 || kept[2] != 9 {
		t.Errorf("kept = %v, want [3 6 9]", kept)
	}

	all := newDecimator(0)
	for i := 0; i < 4; i++ {
		if !all.keep() {
			t.Fatalf("decimation 0 should keep every frame")
		}
	}
}

func TestStateJSON(t *testing.T) {
	for _, st := range []State{Starting, Active, Stopped} {
		data, err := json.Marshal(st)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", st, err)
		}
		var back State
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if back != st {
			t.Errorf("round trip %v -> %s -> %v", st, data, back)
		}
	}
	if State(42).String() != "unknown" {
		t.Errorf("State(42).String() = %q", State(42).String())
	}
}
