// Package config loads the glyphcast server configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/glyphcast/glyphcast/internal/frame"
)

// MaxResolution bounds grid width and height; the frame header stores them
// as uint16 and anything beyond this is unusable on a terminal anyway.
const MaxResolution = 1 << 14

// ErrNotFound wraps fs.ErrNotExist when the config file is missing.
var ErrNotFound = errors.New("config file not found")

type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Stream  StreamConfig  `yaml:"stream" toml:"stream"`
	Source  SourceConfig  `yaml:"source" toml:"source"`
	History HistoryConfig `yaml:"history" toml:"history"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

type ServerConfig struct {
	Host           string   `yaml:"host" toml:"host"`
	Port           int      `yaml:"port" toml:"port"`
	MaxConnections int      `yaml:"max_connections" toml:"max_connections"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

type StreamConfig struct {
	SymbolWidth       int      `yaml:"symbol_width" toml:"symbol_width"`
	SymbolHeight      int      `yaml:"symbol_height" toml:"symbol_height"`
	GridWidth         int      `yaml:"grid_width" toml:"grid_width"`
	GridHeight        int      `yaml:"grid_height" toml:"grid_height"`
	PaletteSize       int      `yaml:"palette_size" toml:"palette_size"`
	Cooldown          Duration `yaml:"cooldown" toml:"cooldown"`
	Decimation        int      `yaml:"decimation" toml:"decimation"`
	IdleInterval      Duration `yaml:"idle_interval" toml:"idle_interval"`
	FallbackFramerate float64  `yaml:"fallback_framerate" toml:"fallback_framerate"`
	Border            string   `yaml:"border" toml:"border"`
}

type SourceConfig struct {
	FFmpeg         string `yaml:"ffmpeg" toml:"ffmpeg"`
	FFprobe        string `yaml:"ffprobe" toml:"ffprobe"`
	Resolver       string `yaml:"resolver" toml:"resolver"`
	ResolverFormat string `yaml:"resolver_format" toml:"resolver_format"`
}

// HistoryConfig points at the sqlite watch log. An empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path" toml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	File   string `yaml:"file" toml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8765,
		},
		Stream: StreamConfig{
			SymbolWidth:       2,
			SymbolHeight:      4,
			GridWidth:         80,
			GridHeight:        40,
			PaletteSize:       16,
			Cooldown:          Duration(5 * time.Second),
			Decimation:        3,
			IdleInterval:      Duration(time.Second),
			FallbackFramerate: 30,
			Border:            "#000000",
		},
		Source: SourceConfig{
			FFmpeg:         "ffmpeg",
			FFprobe:        "ffprobe",
			ResolverFormat: "worst",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. Files ending in .toml are parsed as
// TOML, everything else as YAML. The result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
		}
		return nil, err
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise surface as runtime errors deep
// inside the pipeline.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must be >= 0, got %d", c.Server.MaxConnections)
	}

	s := c.Stream
	if s.SymbolWidth < 1 || s.SymbolHeight < 1 {
		return fmt.Errorf("stream: symbol size %dx%d must be positive", s.SymbolWidth, s.SymbolHeight)
	}
	if s.GridWidth < 1 || s.GridHeight < 1 {
		return fmt.Errorf("stream: grid %dx%d must be positive", s.GridWidth, s.GridHeight)
	}
	if s.GridWidth > MaxResolution || s.GridHeight > MaxResolution {
		return fmt.Errorf("stream: %w: grid %dx%d exceeds %d", frame.ErrGridOverflow, s.GridWidth, s.GridHeight, MaxResolution)
	}
	if err := frame.CheckGridSize(s.GridWidth, s.GridHeight); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	if s.PaletteSize < 1 {
		return fmt.Errorf("stream.palette_size must be >= 1, got %d", s.PaletteSize)
	}
	if err := frame.CheckPaletteSize(s.PaletteSize); err != nil {
		return fmt.Errorf("stream.palette_size: %w", err)
	}
	if s.Cooldown < 0 {
		return fmt.Errorf("stream.cooldown must be >= 0, got %s", s.Cooldown)
	}
	if s.Decimation < 1 {
		return fmt.Errorf("stream.decimation must be >= 1, got %d", s.Decimation)
	}
	if s.IdleInterval <= 0 {
		return fmt.Errorf("stream.idle_interval must be positive, got %s", s.IdleInterval)
	}
	if s.FallbackFramerate <= 0 {
		return fmt.Errorf("stream.fallback_framerate must be positive, got %v", s.FallbackFramerate)
	}
	if _, err := c.BorderColor(); err != nil {
		return err
	}
	return nil
}

// BorderColor parses stream.border as a hex color.
func (c *Config) BorderColor() (frame.RGB, error) {
	border := strings.TrimSpace(c.Stream.Border)
	if border == "" {
		return frame.RGB{}, nil
	}
	col, err := colorful.Hex(border)
	if err != nil {
		return frame.RGB{}, fmt.Errorf("stream.border: %w", err)
	}
	r, g, b := col.RGB255()
	return frame.RGB{R: r, G: g, B: b}, nil
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Duration is a time.Duration that reads and writes Go duration strings
// ("5s", "250ms") in both YAML and TOML. Bare numbers are seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = parsed
	return nil
}

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if v, err := time.ParseDuration(s); err == nil {
		return Duration(v), nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}
