// SPDX-License-Identifier: MIT
package cmd

import (
	"io"
	"time"

	"freqresp/internal/config"
	"freqresp/pkg/build"

	"github.com/spf13/cobra"
)

// Commands selected on the command line.
const (
	CommandMeasure = "measure"
	CommandList    = "list"
	CommandDevices = "devices"
)

// Options is the outcome of parsing the command line. Command is empty when
// only help or version output was requested.
type Options struct {
	Command string
	Config  *config.Config
}

// flagValues mirrors the configuration for cobra; only flags the user set
// are applied over the loaded configuration.
type flagValues struct {
	configPath       string
	inputDevice      int
	outputDevice     int
	sampleRate       float64
	framesPerBuffer  int
	lowLatency       bool
	outputFile       string
	progressInterval time.Duration
	record           bool
	recordPath       string
	udp              string
	websocket        string
	tui              bool
	pick             bool
	verbose          bool
}

// ParseArgs parses args (without the program name) into Options. Help and
// version text go to out.
func ParseArgs(args []string, out io.Writer) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	opts := &Options{}
	var fv flagValues

	rootCmd := &cobra.Command{
		Use:   buildInfo.Name,
		Short: buildInfo.Description,
		Long: buildInfo.Description + `

Connect the output device to the system under test and its response to the
input device. Each of the 1025 bins of a 2048-point FFT is excited with a
pure tone once the input has been quiet for 10 ms. The result is written as
"<frequency Hz> <amplitude> <phase rad>" lines.`,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd, &fv, CommandMeasure)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd, &fv, CommandList)
		},
	}
	rootCmd.AddCommand(listCmd)

	// Devices command
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "Pick input and output devices interactively and print their IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd, &fv, CommandDevices)
		},
	}
	rootCmd.AddCommand(devicesCmd)

	flags := rootCmd.PersistentFlags()

	flags.StringVar(&fv.configPath, "config", "",
		"YAML configuration file (default: "+config.DefaultPath+" when present)")

	// Audio Device Configuration
	flags.IntVarP(&fv.inputDevice, "input", "i", config.DefaultDeviceID,
		"Input device ID receiving the response. Use 'list' command to see available devices.")
	flags.IntVarP(&fv.outputDevice, "output-device", "d", config.DefaultDeviceID,
		"Output device ID playing the probe tone")
	flags.Float64VarP(&fv.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Requested sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&fv.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (0 lets the host choose)")
	flags.BoolVarP(&fv.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Use the devices' low latency settings")

	// Measurement
	flags.StringVarP(&fv.outputFile, "output", "o", config.DefaultOutputFile,
		"Result file")
	flags.DurationVar(&fv.progressInterval, "progress-interval", config.DefaultProgressInterval,
		"Progress refresh interval")

	// Recording Configuration
	flags.BoolVarP(&fv.record, "record", "r", config.DefaultRecordingEnabled,
		"Record probe and response to a stereo WAV file")
	flags.StringVar(&fv.recordPath, "record-path", config.DefaultRecordingPath,
		"WAV file for --record")

	// Transport
	flags.StringVar(&fv.udp, "udp", "",
		"Publish progress packets to this UDP host:port")
	flags.StringVar(&fv.websocket, "websocket", "",
		"Serve progress and results on ws://ADDR/ws")

	// UI
	flags.BoolVarP(&fv.tui, "tui", "t", false,
		"Use the terminal UI")
	flags.BoolVarP(&fv.pick, "pick", "p", false,
		"Choose devices interactively before measuring")

	// Debug Configuration
	flags.BoolVarP(&fv.verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return opts, nil
}

// load reads the configuration file, then applies the flags the user set.
func (o *Options) load(cmd *cobra.Command, fv *flagValues, command string) error {
	cfg, err := config.LoadConfig(fv.configPath)
	if err != nil {
		return err
	}

	changed := cmd.Flags().Changed
	if changed("input") {
		cfg.Audio.InputDevice = fv.inputDevice
	}
	if changed("output-device") {
		cfg.Audio.OutputDevice = fv.outputDevice
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = fv.sampleRate
	}
	if changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = fv.framesPerBuffer
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = fv.lowLatency
	}
	if changed("output") {
		cfg.Measurement.OutputFile = fv.outputFile
	}
	if changed("progress-interval") {
		cfg.Measurement.ProgressInterval = fv.progressInterval
	}
	if changed("record") {
		cfg.Recording.Enabled = fv.record
	}
	if changed("record-path") {
		cfg.Recording.Path = fv.recordPath
	}
	if changed("udp") {
		cfg.Transport.UDPEnabled = fv.udp != ""
		cfg.Transport.UDPTargetAddress = fv.udp
	}
	if changed("websocket") {
		cfg.Transport.WebSocketEnabled = fv.websocket != ""
		cfg.Transport.WebSocketAddr = fv.websocket
	}
	if changed("tui") {
		cfg.UI.TUI = fv.tui
	}
	if changed("pick") {
		cfg.UI.PickDevices = fv.pick
	}
	if fv.verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	o.Command = command
	o.Config = cfg
	return nil
}
