// ABOUTME: Runtime configuration for the pcmstream pipeline
// ABOUTME: YAML file with defaults, overridden by command-line flags, then validated
package config

import (
	"fmt"
	"net"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pcmstream/pcmstream-go/pkg/audio/output"
	"github.com/pcmstream/pcmstream-go/pkg/source"
	"github.com/pcmstream/pcmstream-go/pkg/tap"
)

// DeviceAuto asks the pipeline to browse mDNS for a device
const DeviceAuto = "auto"

// Config describes one pipeline run
type Config struct {
	// Local is the ip:port the receiver binds
	Local string `yaml:"local"`

	// Sink is the ip:port sources stream to. Defaults to Local, with an
	// unspecified host replaced by loopback.
	Sink string `yaml:"sink,omitempty"`

	// Device is the hardware control endpoint, or "auto"
	Device string `yaml:"device,omitempty"`

	SampleRate        int  `yaml:"sample_rate"`
	SamplesPerMessage int  `yaml:"samples_per_message"`
	FrameCount        int  `yaml:"frame_count,omitempty"`
	PrebufferFactor   int  `yaml:"prebuffer_factor"`
	Sequenced         bool `yaml:"sequenced,omitempty"`

	Source   string    `yaml:"source"`
	File     string    `yaml:"file,omitempty"`
	Tones    []float64 `yaml:"tones,omitempty"`
	Output   string    `yaml:"output"`
	Blocking bool      `yaml:"blocking,omitempty"`

	// RunTime bounds the run; zero runs until interrupted
	RunTime time.Duration `yaml:"run_time"`

	Capture     string `yaml:"capture,omitempty"`
	Tap         string `yaml:"tap,omitempty"`
	TapEncoding string `yaml:"tap_encoding,omitempty"`
	Advertise   bool   `yaml:"advertise,omitempty"`

	LogFile string `yaml:"log_file"`
}

// Default returns the stock configuration
func Default() Config {
	return Config{
		Local:             "0.0.0.0:54321",
		SampleRate:        16000,
		SamplesPerMessage: 320,
		PrebufferFactor:   8,
		Source:            string(source.KindSynthetic),
		Output:            "malgo",
		RunTime:           5 * time.Second,
		LogFile:           "pcmstream.log",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.SamplesPerMessage <= 0 {
		return fmt.Errorf("samples_per_message must be positive, got %d", c.SamplesPerMessage)
	}
	if c.FrameCount < 0 {
		return fmt.Errorf("frame_count must not be negative, got %d", c.FrameCount)
	}
	if c.PrebufferFactor <= 0 {
		return fmt.Errorf("prebuffer_factor must be positive, got %d", c.PrebufferFactor)
	}
	if c.RunTime < 0 {
		return fmt.Errorf("run_time must not be negative, got %s", c.RunTime)
	}
	if _, _, err := net.SplitHostPort(c.Local); err != nil {
		return fmt.Errorf("invalid local address %q: %w", c.Local, err)
	}
	if c.Sink != "" {
		if _, _, err := net.SplitHostPort(c.Sink); err != nil {
			return fmt.Errorf("invalid sink address %q: %w", c.Sink, err)
		}
	}
	if !slices.Contains(output.Backends, c.Output) {
		return fmt.Errorf("unknown output backend %q (want one of %v)", c.Output, output.Backends)
	}

	kind, err := source.ParseKind(c.Source)
	if err != nil {
		return err
	}
	switch kind {
	case source.KindHardware:
		if c.Device == "" {
			return fmt.Errorf("hardware source needs a device address (or %q)", DeviceAuto)
		}
		if c.Device != DeviceAuto {
			if _, _, err := net.SplitHostPort(c.Device); err != nil {
				return fmt.Errorf("invalid device address %q: %w", c.Device, err)
			}
		}
	case source.KindFile:
		if c.File == "" {
			return fmt.Errorf("file source needs a file path")
		}
	}

	for _, f := range c.Tones {
		if f <= 0 {
			return fmt.Errorf("tone frequencies must be positive, got %v", f)
		}
	}

	switch c.TapEncoding {
	case "", tap.EncodingPCM, tap.EncodingOpus:
	default:
		return fmt.Errorf("unknown tap_encoding %q (want %s or %s)", c.TapEncoding, tap.EncodingPCM, tap.EncodingOpus)
	}
	return nil
}

// Frames returns the playback frame size in samples. It defaults to one
// tenth of a second.
func (c *Config) Frames() int {
	if c.FrameCount > 0 {
		return c.FrameCount
	}
	return c.SampleRate / 10
}

// SinkAddr returns the address sources stream to
func (c *Config) SinkAddr() string {
	if c.Sink != "" {
		return c.Sink
	}
	host, port, err := net.SplitHostPort(c.Local)
	if err != nil {
		return c.Local
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
