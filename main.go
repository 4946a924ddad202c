// SPDX-License-Identifier: MIT
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"freqresp/cmd"
	"freqresp/internal/audio"
	"freqresp/internal/config"
	"freqresp/internal/log"
	"freqresp/internal/measure"
	"freqresp/internal/report"
	"freqresp/internal/transport"
	"freqresp/internal/transport/udp"
	"freqresp/internal/tui"
	"freqresp/pkg/build"
)

// main is the entry point of the frequency response tool.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and configuration
//   - Initialize PortAudio
//   - Execute one-off commands if requested
//   - Open the duplex stream and allocate the measurement session
//
// 2. Concurrent Phase (Hot Path):
//   - Stream callbacks drive the sweep on the audio thread
//   - The main goroutine waits for the operator, arms the sweep and polls
//     progress until the finished latch is set
//
// 3. Shutdown Phase (Cold Path):
//   - Read the response table and write the result file
//   - Close transports, the recorder and the stream
//
// Any setup or artifact error is fatal and exits nonzero.
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		log.Debugf("Build information incomplete: %v", err)
	}

	// Limit OS threads:
	// - One thread for the audio callback (time-critical)
	// - One thread for UI, transports and I/O
	runtime.GOMAXPROCS(2)

	opts, err := cmd.ParseArgs(os.Args[1:], os.Stdout)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if opts.Command == "" {
		return // help or version only
	}

	if level, ok := log.ParseLevel(opts.Config.LogLevel); ok {
		log.SetLevel(level)
	}

	if err := run(opts); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(opts *cmd.Options) error {
	cfg := opts.Config

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := audio.Terminate(); err != nil {
			log.Warnf("%v", err)
		}
	}()

	// Handle one-off commands that don't require the audio engine.
	switch opts.Command {
	case cmd.CommandList:
		return audio.ListDevices(os.Stdout)

	case cmd.CommandDevices:
		in, out, err := tui.PickDevices(audio.HostDevices)
		if err != nil {
			return err
		}
		fmt.Printf("--input %d --output-device %d\n", in, out)
		return nil
	}

	if cfg.UI.PickDevices {
		in, out, err := tui.PickDevices(audio.HostDevices)
		if err != nil {
			return err
		}
		cfg.Audio.InputDevice, cfg.Audio.OutputDevice = in, out
	}

	return measureResponse(cfg)
}

func measureResponse(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Everything the sweep needs is allocated here, before the stream runs.
	engine, err := audio.NewEngine(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Errorf("Error closing audio engine: %v", err)
		}
	}()
	session := engine.Session()

	fanout, closeTransports, err := openTransports(cfg, session)
	if err != nil {
		return err
	}
	defer closeTransports()

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	// The first callback marks the start of the hot path. The session
	// outputs silence until it is started.
	if err := engine.Start(); err != nil {
		return err
	}
	log.Infof("Streaming at %.0f Hz: output %q, input %q", engine.SampleRate(), engine.OutputName(), engine.InputName())

	onProgress := func(p measure.Progress) {
		if err := fanout.Send(transport.ProgressEvent(p)); err != nil {
			log.Debugf("Progress not published: %v", err)
		}
	}

	if cfg.UI.TUI {
		info := tui.SweepInfo{
			Input:      engine.InputName(),
			Output:     engine.OutputName(),
			SampleRate: engine.SampleRate(),
			OutputFile: cfg.Measurement.OutputFile,
		}
		err = tui.RunSweep(session, info, cfg.Measurement.ProgressInterval, onProgress)
	} else {
		err = consoleSweep(ctx, os.Stdin, os.Stdout, session, cfg.Measurement.ProgressInterval, onProgress)
	}
	if err != nil {
		return fmt.Errorf("sweep aborted: %w", err)
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if stats := engine.Stats(); stats.Xruns() > 0 || stats.RecorderDropped > 0 {
		log.Warnf("Stream reported %d xruns over %d callbacks (%d recorder frames dropped); repeat the sweep if the response looks noisy",
			stats.Xruns(), stats.Callbacks, stats.RecorderDropped)
	}

	bins, err := session.Results()
	if err != nil {
		return err
	}
	if err := report.Save(cfg.Measurement.OutputFile, bins); err != nil {
		return err
	}
	if err := fanout.Send(transport.ResultsEvent(engine.SampleRate(), bins)); err != nil {
		log.Warnf("Results not published: %v", err)
	}

	fmt.Printf("Done. Response written to %s\n", cfg.Measurement.OutputFile)
	if cfg.Recording.Enabled {
		fmt.Printf("Recording saved to %s\n", cfg.Recording.Path)
	}
	return nil
}

// consoleSweep prints the operator guidance, waits for ENTER, arms the
// sweep and prints progress until it finishes or ctx is cancelled.
func consoleSweep(ctx context.Context, in io.Reader, out io.Writer, session *measure.Session, interval time.Duration, onProgress func(measure.Progress)) error {
	fmt.Fprintf(out, "Connect the output to the system under test and its response to the input.\n")
	fmt.Fprintf(out, "%d bins will be measured. Keep the room quiet; each bin waits for 10 ms of silence.\n", measure.Bins)
	fmt.Fprintf(out, "Press ENTER to start the sweep, Ctrl-C to abort.\n")

	confirmed := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(in).ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		confirmed <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-confirmed:
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}
	}

	session.Start()

	err := session.Wait(ctx, interval, func(p measure.Progress) {
		fmt.Fprintf(out, "\r%s", p)
		if onProgress != nil {
			onProgress(p)
		}
	})
	if err != nil {
		fmt.Fprintln(out)
		return err
	}

	final := session.Progress()
	if onProgress != nil {
		onProgress(final)
	}
	fmt.Fprintf(out, "\r%s\n", final)
	return nil
}

// openTransports builds the progress fan-out and starts the UDP publisher.
// The returned func closes everything that was opened.
func openTransports(cfg *config.Config, session *measure.Session) (transport.Multi, func(), error) {
	fanout := transport.Multi{transport.NewLoggingTransport()}
	var publisher *udp.UDPPublisher
	var sender *udp.UDPSender

	closeAll := func() {
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				log.Warnf("Error stopping UDP publisher: %v", err)
			}
		}
		if sender != nil {
			if err := sender.Close(); err != nil {
				log.Warnf("Error closing UDP sender: %v", err)
			}
		}
		if err := fanout.Close(); err != nil {
			log.Warnf("Error closing transports: %v", err)
		}
	}

	if cfg.Transport.WebSocketEnabled {
		ws, err := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddr)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		fanout = append(fanout, ws)
	}

	if cfg.Transport.UDPEnabled {
		var err error
		sender, err = udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		publisher, err = udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, session)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		publisher.Start()
	}

	return fanout, closeAll, nil
}
