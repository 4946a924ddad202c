// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"io"

	"freqresp/internal/config"

	"github.com/gordonklaus/portaudio"
)

var (
	ErrInvalidDevice     = errors.New("audio: invalid device ID")
	ErrNoInputChannels   = errors.New("audio: device does not support input")
	ErrNoOutputChannels  = errors.New("audio: device does not support output")
	ErrStreamNotOpen     = errors.New("audio: stream is not open")
	ErrUnsupportedFormat = errors.New("audio: unsupported recording format")
)

// PortAudio entry points, replaceable in tests.
var (
	paLibInitialize              = portaudio.Initialize
	paLibTerminate               = portaudio.Terminate
	paLibDevicesFunc             = portaudio.Devices
	paLibDefaultInputDeviceFunc  = portaudio.DefaultInputDevice
	paLibDefaultOutputDeviceFunc = portaudio.DefaultOutputDevice
	paDevicesFunc                = paDevices
)

// Initialize sets up the PortAudio subsystem.
// This must be called before any audio operations and paired with a Terminate() call.
func Initialize() error {
	if err := paLibInitialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
// This should be deferred immediately after Initialize().
func Terminate() error {
	if err := paLibTerminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// HostDevices returns every device PortAudio knows about, indexed by ID.
func HostDevices() ([]Device, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}
	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = deviceFromInfo(i, info)
	}
	return devices, nil
}

// InputDevice retrieves the audio input device for the given device ID.
// If deviceID is MinDeviceID (-1), returns the system default input device.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	return lookupDevice(deviceID, paLibDefaultInputDeviceFunc, func(d *portaudio.DeviceInfo) error {
		if d.MaxInputChannels < 1 {
			return fmt.Errorf("%w: %d (%s)", ErrNoInputChannels, deviceID, d.Name)
		}
		return nil
	})
}

// OutputDevice retrieves the audio output device for the given device ID.
// If deviceID is MinDeviceID (-1), returns the system default output device.
func OutputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	return lookupDevice(deviceID, paLibDefaultOutputDeviceFunc, func(d *portaudio.DeviceInfo) error {
		if d.MaxOutputChannels < 1 {
			return fmt.Errorf("%w: %d (%s)", ErrNoOutputChannels, deviceID, d.Name)
		}
		return nil
	})
}

func lookupDevice(deviceID int, fallback func() (*portaudio.DeviceInfo, error), check func(*portaudio.DeviceInfo) error) (*portaudio.DeviceInfo, error) {
	devices, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	if deviceID == config.MinDeviceID {
		device, err := fallback()
		if err != nil {
			return nil, err
		}
		return device, nil
	}

	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDevice, deviceID)
	}
	device := devices[deviceID]
	if err := check(device); err != nil {
		return nil, err
	}
	return device, nil
}

// ListDevices prints information about all available audio devices to w.
// For each device, it shows:
// - Device ID, name and host API
// - Device type (Input/Output/Input+Output)
// - Channel count
// - Default sample rate
// - Latency ranges
func ListDevices(w io.Writer) error {
	devices, err := HostDevices()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\nAvailable Audio Devices\n\n")

	for _, device := range devices {
		fmt.Fprintf(w, "[%d] %s (%s)", device.ID, device.Name, device.Kind())
		if device.HostAPI != "" {
			fmt.Fprintf(w, " via %s", device.HostAPI)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "    Input channels: %d, Output channels: %d\n", device.MaxInputChannels, device.MaxOutputChannels)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)
		fmt.Fprintf(w, "    Input latency: Low=%.2fms, High=%.2fms\n",
			device.LowInputLatency.Seconds()*1000,
			device.HighInputLatency.Seconds()*1000)
		fmt.Fprintf(w, "    Output latency: Low=%.2fms, High=%.2fms\n",
			device.LowOutputLatency.Seconds()*1000,
			device.HighOutputLatency.Seconds()*1000)
		fmt.Fprintln(w)
	}

	return nil
}

// paDevices returns all available PortAudio devices, never a nil slice on
// success.
func paDevices() ([]*portaudio.DeviceInfo, error) {
	devices, err := paLibDevicesFunc()
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []*portaudio.DeviceInfo{}
	}
	return devices, nil
}
