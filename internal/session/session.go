// Package session drives one video source through the transcoding pipeline.
//
// A Session moves Starting -> Active -> Stopped. It is created cheaply in
// the request path; the source is only opened by the first Advance, which
// runs on the emission goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glyphcast/glyphcast/internal/frame"
	"github.com/glyphcast/glyphcast/internal/source"
	"github.com/glyphcast/glyphcast/internal/transcode"
)

var (
	ErrSourceOpen      = errors.New("source open failed")
	ErrSourceExhausted = errors.New("source exhausted")
	ErrSessionStopped  = errors.New("session stopped")
)

// Transcoder turns one decoded frame into an encoded glyph grid.
type Transcoder interface {
	Transcode(img image.Image) (*transcode.Output, error)
}

// Options tunes a session.
type Options struct {
	Decimation        int     // transcode every n-th frame
	FallbackFramerate float64 // used until the source reports its own rate
	Logger            *slog.Logger
	Now               func() time.Time
}

// Session owns one source handle and the latest frame produced from it.
type Session struct {
	id       string
	url      string
	opener   source.Opener
	pipeline Transcoder
	decim    *decimator
	fallback float64
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	state         State
	src           source.Source
	fps           float64
	pending       bool
	latest        *frame.Frame
	framesRead    int64
	framesEncoded int64
	lastEncode    time.Duration
	lastError     float64
	startedAt     time.Time
	endedAt       time.Time
	endReason     string
}

// New creates a Starting session for url. Nothing is opened yet.
func New(url string, opener source.Opener, pipeline Transcoder, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	fallback := opts.FallbackFramerate
	if fallback <= 0 {
		fallback = 30
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		url:       url,
		opener:    opener,
		pipeline:  pipeline,
		decim:     newDecimator(opts.Decimation),
		fallback:  fallback,
		logger:    logger.With("session", id[:8], "url", url),
		now:       now,
		state:     Starting,
		startedAt: now(),
	}
}

func (s *Session) ID() string  { return s.id }
func (s *Session) URL() string { return s.url }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Advance opens the source if needed, reads one frame and, when the
// decimator keeps it, transcodes it into the pending slot. Only one goroutine
// may call Advance.
func (s *Session) Advance(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	src := s.src
	s.mu.Unlock()

	if src == nil {
		opened, err := s.opener.Open(ctx, s.url)
		if err != nil {
			s.finish(fmt.Sprintf("open failed: %v", err))
			return fmt.Errorf("%w: %w", ErrSourceOpen, err)
		}

		s.mu.Lock()
		if s.state == Stopped {
			s.mu.Unlock()
			opened.Close()
			return ErrSessionStopped
		}
		s.src = opened
		if fps := opened.Framerate(); fps > 0 {
			s.fps = fps
		}
		s.mu.Unlock()

		src = opened
		s.logger.Info("source opened", "fps", s.Framerate())
	}

	img, err := src.Read()

	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	if err != nil {
		s.mu.Unlock()
		s.finish(fmt.Sprintf("source ended: %v", err))
		return fmt.Errorf("%w: %w", ErrSourceExhausted, err)
	}
	s.state = Active
	s.framesRead++
	keep := s.decim.keep()
	s.mu.Unlock()

	if !keep {
		return nil
	}

	out, err := s.pipeline.Transcode(img)
	if err != nil {
		s.finish(fmt.Sprintf("transcode failed: %v", err))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return ErrSessionStopped
	}
	s.latest = out.Frame
	s.pending = true
	s.framesEncoded++
	s.lastEncode = out.Elapsed
	s.lastError = out.Error
	return nil
}

// TakePending returns the latest frame if it has not been taken yet.
func (s *Session) TakePending() (*frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending || s.latest == nil {
		return nil, false
	}
	s.pending = false
	return s.latest, true
}

// Latest returns the most recent frame regardless of the pending flag.
func (s *Session) Latest() *frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Stop closes the source. It is idempotent and safe to call while another
// goroutine is inside Advance.
func (s *Session) Stop() {
	s.finish("stopped")
}

// StopWithReason is Stop with a recorded reason.
func (s *Session) StopWithReason(reason string) {
	s.finish(reason)
}

func (s *Session) finish(reason string) {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.state = Stopped
	s.endedAt = s.now()
	s.endReason = reason
	s.pending = false
	src := s.src
	s.src = nil
	s.mu.Unlock()

	if src != nil {
		if err := src.Close(); err != nil {
			s.logger.Warn("source close failed", "error", err)
		}
	}
	s.logger.Info("session stopped", "reason", reason)
}

// Framerate returns the source's nominal framerate once known, else the
// configured fallback.
func (s *Session) Framerate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fps > 0 {
		return s.fps
	}
	return s.fallback
}

// Snapshot copies the session's bookkeeping.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:            s.id,
		URL:           s.url,
		State:         s.state,
		Framerate:     s.fallback,
		FramesRead:    s.framesRead,
		FramesEncoded: s.framesEncoded,
		LastEncode:    s.lastEncode,
		LastError:     s.lastError,
		StartedAt:     s.startedAt,
		EndReason:     s.endReason,
	}
	if s.fps > 0 {
		snap.Framerate = s.fps
	}
	if s.latest != nil {
		snap.GridWidth, snap.GridHeight = s.latest.Width, s.latest.Height
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		snap.EndedAt = &ended
	}
	return snap
}
