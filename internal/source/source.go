// Package source opens video sources and decodes them into RGB frames.
//
// Two kinds of source exist: media URLs decoded by an ffmpeg subprocess
// (optionally resolved through a helper such as yt-dlp first), and
// synthetic:// test patterns generated in process.
package source

import (
	"context"
	"errors"
	"image"
	"strings"
)

// ErrUnsupported is returned when no opener accepts a URL.
var ErrUnsupported = errors.New("unsupported source url")

// Source yields decoded frames. Read returns io.EOF once the source ends.
type Source interface {
	Read() (*image.RGBA, error)
	Framerate() float64
	Close() error
}

// Opener opens a Source for a URL.
type Opener interface {
	Open(ctx context.Context, url string) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, url string) (Source, error)

// Open calls f(ctx, url).
func (f OpenerFunc) Open(ctx context.Context, url string) (Source, error) {
	return f(ctx, url)
}

// Router sends synthetic:// URLs to Synthetic and everything else to Media.
type Router struct {
	Synthetic Opener
	Media     Opener
}

// Open dispatches url to the matching opener.
func (r Router) Open(ctx context.Context, url string) (Source, error) {
	if IsSynthetic(url) {
		if r.Synthetic == nil {
			return nil, ErrUnsupported
		}
		return r.Synthetic.Open(ctx, url)
	}
	if r.Media == nil {
		return nil, ErrUnsupported
	}
	return r.Media.Open(ctx, url)
}

// IsSynthetic reports whether url names a generated test pattern.
func IsSynthetic(url string) bool {
	return strings.HasPrefix(strings.TrimSpace(url), SyntheticScheme+"://")
}
