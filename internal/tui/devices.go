// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"fmt"
	"strings"

	"freqresp/internal/audio"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E8A33D"))
)

// ErrCancelled is returned when the operator quits a picker or the sweep
// view before it completes.
var ErrCancelled = errors.New("tui: cancelled by operator")

var (
	keyQuit = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	keyUp   = key.NewBinding(key.WithKeys("up", "k"))
	keyDown = key.NewBinding(key.WithKeys("down", "j"))
	keyOK   = key.NewBinding(key.WithKeys("enter"))
	keyBack = key.NewBinding(key.WithKeys("esc"))
)

// ScreenType defines which screen is currently active
type ScreenType int

const (
	InputScreen ScreenType = iota
	OutputScreen
	DoneScreen
)

// DevicePickerModel lets the operator choose the input device, then the
// output device, of the measurement loop.
type DevicePickerModel struct {
	fetch         func() ([]audio.Device, error)
	devices       []audio.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType
	cancelled     bool

	input  int
	output int
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

// NewDevicePickerModel creates a picker listing the devices returned by
// fetch, typically audio.HostDevices.
func NewDevicePickerModel(fetch func() ([]audio.Device, error)) DevicePickerModel {
	return DevicePickerModel{
		fetch:        fetch,
		activeScreen: InputScreen,
		input:        -1,
		output:       -1,
	}
}

// Init initializes the Bubble Tea model
func (m DevicePickerModel) Init() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		devices, err := fetch()
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{devices}
	}
}

// Selection returns the chosen device IDs once both were confirmed.
func (m DevicePickerModel) Selection() (input, output int, ok bool) {
	return m.input, m.output, m.activeScreen == DoneScreen
}

// Update handles input and updates the model
func (m DevicePickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.viewport.SetContent(m.renderDevices())

	case devicesMsg:
		m.devices = msg.devices
		m.selectedIndex = m.firstCandidate()
		m.viewport.SetContent(m.renderDevices())

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, keyQuit) {
			m.cancelled = true
			return m, tea.Quit
		}
		if m.err != nil {
			return m, tea.Quit
		}

		switch {
		case key.Matches(msg, keyUp):
			m.move(-1)

		case key.Matches(msg, keyDown):
			m.move(+1)

		case key.Matches(msg, keyBack):
			if m.activeScreen == OutputScreen {
				m.activeScreen = InputScreen
				m.selectedIndex = m.indexOf(m.input)
			}

		case key.Matches(msg, keyOK):
			if !m.candidate(m.selectedIndex) {
				break
			}
			id := m.devices[m.selectedIndex].ID
			if m.activeScreen == InputScreen {
				m.input = id
				m.activeScreen = OutputScreen
				m.selectedIndex = m.firstCandidate()
			} else if m.activeScreen == OutputScreen {
				m.output = id
				m.activeScreen = DoneScreen
				return m, tea.Quit
			}
		}
		m.viewport.SetContent(m.renderDevices())
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// move steps the cursor to the next device usable on the current screen.
func (m *DevicePickerModel) move(delta int) {
	for i := m.selectedIndex + delta; i >= 0 && i < len(m.devices); i += delta {
		if m.candidate(i) {
			m.selectedIndex = i
			return
		}
	}
}

func (m DevicePickerModel) candidate(i int) bool {
	if i < 0 || i >= len(m.devices) {
		return false
	}
	switch m.activeScreen {
	case InputScreen:
		return m.devices[i].MaxInputChannels > 0
	case OutputScreen:
		return m.devices[i].MaxOutputChannels > 0
	}
	return false
}

func (m DevicePickerModel) firstCandidate() int {
	for i := range m.devices {
		if m.candidate(i) {
			return i
		}
	}
	return 0
}

func (m DevicePickerModel) indexOf(id int) int {
	for i, d := range m.devices {
		if d.ID == id {
			return i
		}
	}
	return m.firstCandidate()
}

// View renders the UI
func (m DevicePickerModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress any key to exit.", m.err)
	}

	var title, help string
	switch m.activeScreen {
	case InputScreen:
		title = titleStyle.Render("Select Input Device (returned signal)")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Select • q: Quit")
	default:
		title = titleStyle.Render("Select Output Device (probe tone)")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Select • Esc: Back • q: Quit")
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

// renderDevices formats the device list
func (m DevicePickerModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No audio devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		if !m.candidate(i) {
			continue
		}

		marker := " "
		if i == m.selectedIndex {
			marker = "▶"
		}
		deviceInfo := fmt.Sprintf("%s [%d] %s (%s)\n", marker, device.ID, device.Name, device.Kind())
		deviceInfo += fmt.Sprintf("    Input channels: %d, Output channels: %d\n",
			device.MaxInputChannels, device.MaxOutputChannels)
		deviceInfo += fmt.Sprintf("    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)

		if i == m.selectedIndex {
			deviceInfo = highlightStyle.Render(deviceInfo)
		}

		sb.WriteString(deviceInfo)
		sb.WriteString("\n")
	}

	return sb.String()
}

// PickDevices launches the picker and returns the chosen input and output
// device IDs.
func PickDevices(fetch func() ([]audio.Device, error)) (input, output int, err error) {
	p := tea.NewProgram(NewDevicePickerModel(fetch), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return 0, 0, err
	}

	m := final.(DevicePickerModel)
	if m.err != nil {
		return 0, 0, m.err
	}
	in, out, ok := m.Selection()
	if !ok {
		return 0, 0, ErrCancelled
	}
	return in, out, nil
}
