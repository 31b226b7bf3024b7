package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type CaptureProfile struct {
	Width            int     `yaml:"width"`
	Height           int     `yaml:"height"`
	FrameRate        float64 `yaml:"frame_rate"`
	EchoCancellation bool    `yaml:"echo_cancellation"`
	NoiseSuppression bool    `yaml:"noise_suppression"`
	AutoGainControl  bool    `yaml:"auto_gain_control"`
}

// DeviceLimits bound what the local capture device can deliver. Zero means
// unlimited; HasAudio/HasVideo false means the kind is missing entirely.
type DeviceLimits struct {
	HasAudio     bool    `yaml:"has_audio"`
	HasVideo     bool    `yaml:"has_video"`
	MaxWidth     int     `yaml:"max_width"`
	MaxHeight    int     `yaml:"max_height"`
	MaxFrameRate float64 `yaml:"max_frame_rate"`
	AudioDSP     bool    `yaml:"audio_dsp"`
}

type Config struct {
	Client struct {
		RelayHost       string        `yaml:"relay_host"`
		Secure          bool          `yaml:"secure"`
		Identity        string        `yaml:"identity"`
		ControlAddress  string        `yaml:"control_address"`
		AutoCall        string        `yaml:"auto_call"`
		DialTimeout     time.Duration `yaml:"dial_timeout"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"client"`

	Reconnect struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
	} `yaml:"reconnect"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Capture struct {
		Preferred CaptureProfile `yaml:"preferred"`
		Device    DeviceLimits   `yaml:"device"`
	} `yaml:"capture"`

	Relay struct {
		Address             string        `yaml:"address"`
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
		MessagesPerSecond   float64       `yaml:"messages_per_second"`
		Burst               int           `yaml:"burst"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
	} `yaml:"relay"`

	// RateLimiting guards the client control API.
	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"rate_limiting"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Client
	if c.Client.RelayHost == "" {
		return fmt.Errorf("client.relay_host must not be empty")
	}
	if c.Client.ControlAddress == "" {
		return fmt.Errorf("client.control_address must not be empty")
	}
	if c.Client.DialTimeout <= 0 {
		return fmt.Errorf("client.dial_timeout must be > 0")
	}
	if c.Client.ReadTimeout <= 0 {
		return fmt.Errorf("client.read_timeout must be > 0")
	}
	if c.Client.ShutdownTimeout <= 0 {
		return fmt.Errorf("client.shutdown_timeout must be > 0")
	}

	// Reconnect
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must be >= 0")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be > 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
	}

	// Capture
	p := c.Capture.Preferred
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("capture.preferred width and height must be > 0")
	}
	if p.FrameRate <= 0 {
		return fmt.Errorf("capture.preferred.frame_rate must be > 0")
	}

	// Relay
	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= c.Relay.PingInterval {
		return fmt.Errorf("relay.pong_timeout must be > relay.ping_interval")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.ShutdownTimeout <= 0 {
		return fmt.Errorf("relay.shutdown_timeout must be > 0")
	}
	if c.Relay.MessagesPerSecond <= 0 {
		return fmt.Errorf("relay.messages_per_second must be > 0")
	}
	if c.Relay.Burst <= 0 {
		return fmt.Errorf("relay.burst must be > 0")
	}
	if c.Relay.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("relay.max_message_size_bytes must be >= 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0")
		}
	}
	if c.RateLimiting.MaxConcurrent < 0 {
		return fmt.Errorf("rate_limiting.max_concurrent must be >= 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Client.RelayHost = "localhost:8081"
	cfg.Client.Secure = false
	cfg.Client.ControlAddress = ":8080"
	cfg.Client.DialTimeout = 10 * time.Second
	cfg.Client.ReadTimeout = 90 * time.Second
	cfg.Client.ShutdownTimeout = 10 * time.Second

	cfg.Reconnect.MaxAttempts = 5
	cfg.Reconnect.BaseDelay = time.Second

	cfg.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

	cfg.Capture.Preferred = CaptureProfile{
		Width:            1280,
		Height:           720,
		FrameRate:        30,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
	cfg.Capture.Device = DeviceLimits{HasAudio: true, HasVideo: true, AudioDSP: true}

	cfg.Relay.Address = ":8081"
	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.ShutdownTimeout = 30 * time.Second
	cfg.Relay.MessagesPerSecond = 100
	cfg.Relay.Burst = 200
	cfg.Relay.MaxMessageSizeBytes = 64 * 1024

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 10
	cfg.RateLimiting.Burst = 20
	cfg.RateLimiting.MaxConcurrent = 100

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "peercall"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("PEERCALL_RELAY_HOST"); host != "" {
		c.Client.RelayHost = host
	}
	if secure := os.Getenv("PEERCALL_SECURE"); secure != "" {
		if v, err := strconv.ParseBool(secure); err == nil {
			c.Client.Secure = v
		}
	}
	if id := os.Getenv("PEERCALL_IDENTITY"); id != "" {
		c.Client.Identity = id
	}
	if addr := os.Getenv("PEERCALL_CONTROL_ADDRESS"); addr != "" {
		c.Client.ControlAddress = addr
	}
	if addr := os.Getenv("PEERCALL_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if level := os.Getenv("PEERCALL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
