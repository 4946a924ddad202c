// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the measurement host. The transform length, silence threshold and
// debounce window are fixed by the measure package and are not listed here.
const (
	// Default values for the audio engine configuration
	DefaultDeviceID        = MinDeviceID // Default to system default device
	DefaultFramesPerBuffer = 256         // Short buffers keep the tone tail short
	DefaultLowLatency      = false       // Standard latency mode
	DefaultSampleRate      = 48000       // Requested rate; the stream reports the real one
	DefaultLogLevel        = "info"

	// Measurement artifact and progress cadence
	DefaultOutputFile       = "response.dat"
	DefaultProgressInterval = 100 * time.Millisecond

	// Recording of the excitation/response pair
	DefaultRecordingEnabled = false
	DefaultRecordingPath    = "sweep.wav"
	DefaultBitDepth         = 24

	// Transport defaults
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPSendInterval  = 33 * time.Millisecond // ~30Hz
	DefaultWebSocketAddr    = "127.0.0.1:8080"

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
)

// Config represents the application configuration, loaded from YAML and
// overridden by FREQRESP_* environment variables and command line flags.
type Config struct {
	LogLevel    string            `yaml:"log_level"`   // Logging level ("debug", "info", "warn", "error").
	Audio       AudioConfig       `yaml:"audio"`       // Device and stream settings.
	Measurement MeasurementConfig `yaml:"measurement"` // Sweep output settings.
	Recording   RecordingConfig   `yaml:"recording"`   // Optional WAV capture of the sweep.
	Transport   TransportConfig   `yaml:"transport"`   // Progress fan-out.
	UI          UIConfig          `yaml:"ui"`          // Console or terminal UI.
}

// AudioConfig holds settings related to audio input/output.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for the returned signal (-1 for default).
	OutputDevice    int     `yaml:"output_device"`     // PortAudio device index for the probe tone (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Requested sample rate in Hz.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per engine callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request the devices' low latency settings.
}

// MeasurementConfig holds settings of the sweep itself.
type MeasurementConfig struct {
	OutputFile       string        `yaml:"output_file"`       // Result artifact path.
	ProgressInterval time.Duration `yaml:"progress_interval"` // Progress poll cadence.
}

// RecordingConfig holds settings related to recording the sweep to a WAV
// file, probe tone on the left channel and returned signal on the right.
type RecordingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	BitDepth int    `yaml:"bit_depth"` // 16 or 24.
}

// TransportConfig holds settings related to publishing progress over the
// network.
type TransportConfig struct {
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send packed progress packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets.
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets.
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Serve progress and results on /ws.
	WebSocketAddr    string        `yaml:"websocket_addr"`     // Listen address of the WebSocket server.
}

// UIConfig selects the operator interface.
type UIConfig struct {
	TUI         bool `yaml:"tui"`          // Use the terminal UI instead of the console prompt.
	PickDevices bool `yaml:"pick_devices"` // Choose devices interactively before the sweep.
}

// NewConfig creates a new Config instance with default values.
// This is the base configuration before a config file, the environment
// or command line flags are applied.
func NewConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			OutputDevice:    DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
		},
		Measurement: MeasurementConfig{
			OutputFile:       DefaultOutputFile,
			ProgressInterval: DefaultProgressInterval,
		},
		Recording: RecordingConfig{
			Enabled:  DefaultRecordingEnabled,
			Path:     DefaultRecordingPath,
			BitDepth: DefaultBitDepth,
		},
		Transport: TransportConfig{
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
			WebSocketAddr:    DefaultWebSocketAddr,
		},
	}
}
