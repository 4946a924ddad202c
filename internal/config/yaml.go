// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"freqresp/internal/log"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file picked up from the working directory
// when no path is given.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FREQRESP_"

var ErrInvalidConfig = errors.New("config: invalid configuration")

// LoadConfig loads configuration from the YAML file at path. If path is
// empty, DefaultPath is used when it exists, otherwise the built-in
// defaults. Environment overrides are applied after the file and the final
// configuration is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err != nil {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return cfg, nil
		}
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment overrides win over the file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the ranges the audio host and transports depend on.
func (c *Config) Validate() error {
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}

	a := c.Audio
	if a.InputDevice < MinDeviceID || a.OutputDevice < MinDeviceID {
		return fmt.Errorf("%w: device index must be >= %d", ErrInvalidConfig, MinDeviceID)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample_rate %v outside [%d, %d]", ErrInvalidConfig, a.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if a.FramesPerBuffer < 0 || a.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("%w: frames_per_buffer %d outside [0, %d]", ErrInvalidConfig, a.FramesPerBuffer, MaxBufferFrames)
	}

	if strings.TrimSpace(c.Measurement.OutputFile) == "" {
		return fmt.Errorf("%w: measurement.output_file must be set", ErrInvalidConfig)
	}
	if c.Measurement.ProgressInterval <= 0 {
		return fmt.Errorf("%w: measurement.progress_interval must be positive", ErrInvalidConfig)
	}

	if c.Recording.Enabled {
		if c.Recording.Path == "" {
			return fmt.Errorf("%w: recording.path must be set when recording is enabled", ErrInvalidConfig)
		}
		if c.Recording.BitDepth != 16 && c.Recording.BitDepth != 24 {
			return fmt.Errorf("%w: recording.bit_depth must be 16 or 24, got %d", ErrInvalidConfig, c.Recording.BitDepth)
		}
	}

	t := c.Transport
	if t.UDPEnabled {
		if !strings.Contains(t.UDPTargetAddress, ":") {
			return fmt.Errorf("%w: transport.udp_target_address %q appears invalid (missing port?)", ErrInvalidConfig, t.UDPTargetAddress)
		}
		if t.UDPSendInterval <= 0 {
			return fmt.Errorf("%w: transport.udp_send_interval must be positive when UDP is enabled", ErrInvalidConfig)
		}
	}
	if t.WebSocketEnabled && !strings.Contains(t.WebSocketAddr, ":") {
		return fmt.Errorf("%w: transport.websocket_addr %q appears invalid (missing port?)", ErrInvalidConfig, t.WebSocketAddr)
	}
	return nil
}

// applyEnvOverrides reads FREQRESP_* variables. Values that fail to parse
// are logged and ignored.
func (c *Config) applyEnvOverrides() {
	envString("LOG_LEVEL", &c.LogLevel)

	envInt("INPUT_DEVICE", &c.Audio.InputDevice)
	envInt("OUTPUT_DEVICE", &c.Audio.OutputDevice)
	envFloat("SAMPLE_RATE", &c.Audio.SampleRate)
	envInt("FRAMES_PER_BUFFER", &c.Audio.FramesPerBuffer)
	envBool("LOW_LATENCY", &c.Audio.LowLatency)

	envString("OUTPUT_FILE", &c.Measurement.OutputFile)
	envDuration("PROGRESS_INTERVAL", &c.Measurement.ProgressInterval)

	envBool("RECORD", &c.Recording.Enabled)
	envString("RECORD_PATH", &c.Recording.Path)

	envBool("UDP_ENABLED", &c.Transport.UDPEnabled)
	envString("UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)
	envDuration("UDP_SEND_INTERVAL", &c.Transport.UDPSendInterval)
	envBool("WEBSOCKET_ENABLED", &c.Transport.WebSocketEnabled)
	envString("WEBSOCKET_ADDR", &c.Transport.WebSocketAddr)

	envBool("TUI", &c.UI.TUI)
}

func envLookup(name string) (string, string, bool) {
	key := EnvPrefix + name
	val, ok := os.LookupEnv(key)
	return key, val, ok
}

func envString(name string, dst *string) {
	if key, val, ok := envLookup(name); ok {
		*dst = val
		log.Debugf("configuration: overriding %s from env: %s", key, val)
	}
}

func envBool(name string, dst *bool) {
	key, val, ok := envLookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		log.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
		return
	}
	*dst = b
	log.Debugf("configuration: overriding %s from env: %v", key, b)
}

func envInt(name string, dst *int) {
	key, val, ok := envLookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
		return
	}
	*dst = n
	log.Debugf("configuration: overriding %s from env: %d", key, n)
}

func envFloat(name string, dst *float64) {
	key, val, ok := envLookup(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		log.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
		return
	}
	*dst = f
	log.Debugf("configuration: overriding %s from env: %v", key, f)
}

func envDuration(name string, dst *time.Duration) {
	key, val, ok := envLookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
		return
	}
	*dst = d
	log.Debugf("configuration: overriding %s from env: %s", key, d)
}
