package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// maxPixels bounds the decoded frame size ffmpeg may report.
const maxPixels = 8192 * 8192

// FFmpeg opens media URLs by probing them with ffprobe and decoding them with
// an ffmpeg subprocess that writes raw rgb24 frames to its stdout.
type FFmpeg struct {
	FFmpeg   string // binary, default "ffmpeg"
	FFprobe  string // binary, default "ffprobe"
	Resolver Resolver
	Logger   *slog.Logger
}

// Open resolves, probes and starts decoding url.
func (f *FFmpeg) Open(ctx context.Context, url string) (Source, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	media, err := f.Resolver.Resolve(ctx, url)
	if err != nil {
		return nil, err
	}

	probe, err := Probe(ctx, f.FFprobe, media)
	if err != nil {
		return nil, err
	}
	video, ok := probe.Video()
	if !ok {
		return nil, fmt.Errorf("open %s: no video stream", url)
	}
	if video.Width <= 0 || video.Height <= 0 || video.Width*video.Height > maxPixels {
		return nil, fmt.Errorf("open %s: unusable video size %dx%d", url, video.Width, video.Height)
	}

	binary := strings.TrimSpace(f.FFmpeg)
	if binary == "" {
		binary = "ffmpeg"
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, binary,
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", media,
		"-an", "-sn",
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-",
	)
	src, err := startDecoder(cmd, cancel, video.Width, video.Height)
	if err != nil {
		return nil, fmt.Errorf("open %s: start %s: %w", url, binary, err)
	}
	src.fps = video.Framerate()
	src.logger = logger
	src.url = url

	logger.Info("ffmpeg started",
		"url", url,
		"width", video.Width,
		"height", video.Height,
		"codec", video.CodecName,
		"fps", video.Framerate(),
	)
	return src, nil
}

// startDecoder starts cmd with its stdout connected to a pipe the source
// owns, so Close can unblock a pending Read before reaping the process.
func startDecoder(cmd *exec.Cmd, cancel context.CancelFunc, width, height int) (*ffmpegSource, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stdout = pw
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		cancel()
		pr.Close()
		pw.Close()
		return nil, err
	}
	// the child holds its own copy of the write end
	pw.Close()

	return &ffmpegSource{
		raw:    newRawReader(pr, width, height),
		pipe:   pr,
		cmd:    cmd,
		cancel: cancel,
		stderr: &stderr,
		logger: slog.Default(),
	}, nil
}

type ffmpegSource struct {
	raw    *rawReader
	pipe   *os.File
	fps    float64
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *bytes.Buffer
	logger *slog.Logger
	url    string

	// readMu is held for the duration of a Read; Close takes it after the
	// pipe is closed so Wait never runs while a read is in flight.
	readMu sync.Mutex
	closed bool

	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegSource) Read() (*image.RGBA, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if s.closed {
		return nil, os.ErrClosed
	}
	return s.raw.Read()
}

func (s *ffmpegSource) Framerate() float64 {
	return s.fps
}

// Close kills the decoder, closes the read side of its stdout, waits for a
// concurrent Read to return and then reaps the process. Safe to call more
// than once and from a goroutine other than the reader.
func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.pipe.Close()

		s.readMu.Lock()
		s.closed = true
		s.readMu.Unlock()

		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			s.closeErr = err
		}
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			s.logger.Debug("ffmpeg stderr", "url", s.url, "output", msg)
		}
	})
	return s.closeErr
}

// rawReader slices a packed rgb24 byte stream into frames.
type rawReader struct {
	r      io.Reader
	width  int
	height int
	buf    []byte
}

func newRawReader(r io.Reader, width, height int) *rawReader {
	return &rawReader{r: r, width: width, height: height, buf: make([]byte, width*height*3)}
}

// Read returns the next frame, or io.EOF when the stream ends, including
// when it ends partway through a frame.
func (r *rawReader) Read() (*image.RGBA, error) {
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	for i, j := 0, 0; i < len(r.buf); i, j = i+3, j+4 {
		img.Pix[j] = r.buf[i]
		img.Pix[j+1] = r.buf[i+1]
		img.Pix[j+2] = r.buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}
