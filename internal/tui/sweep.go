// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"freqresp/internal/measure"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// SweepSource is the part of the measurement session the sweep view drives.
type SweepSource interface {
	Start()
	Progress() measure.Progress
}

// SweepInfo is shown in the header of the sweep view.
type SweepInfo struct {
	Input      string
	Output     string
	SampleRate float64
	OutputFile string
}

type tickMsg time.Time

// thresholdDBFS is the silence gate level, -40 dBFS.
var thresholdDBFS = 20 * math.Log10(measure.SilenceThreshold)

// SweepModel asks the operator to confirm, starts the sweep and shows its
// progress until every bin is measured.
type SweepModel struct {
	source     SweepSource
	info       SweepInfo
	interval   time.Duration
	onProgress func(measure.Progress)

	bar      progress.Model
	last     measure.Progress
	started  bool
	finished bool
	aborted  bool
}

// NewSweepModel creates the view. onProgress, if set, receives every
// polled snapshot.
func NewSweepModel(source SweepSource, info SweepInfo, interval time.Duration, onProgress func(measure.Progress)) SweepModel {
	if interval <= 0 {
		interval = measure.DefaultPollInterval
	}
	return SweepModel{
		source:     source,
		info:       info,
		interval:   interval,
		onProgress: onProgress,
		bar:        progress.New(progress.WithDefaultGradient()),
		last:       source.Progress(),
	}
}

// Init starts polling so the input level is visible before the sweep.
func (m SweepModel) Init() tea.Cmd {
	return m.tick()
}

func (m SweepModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Finished reports whether the sweep completed.
func (m SweepModel) Finished() bool { return m.finished }

// Aborted reports whether the operator quit before completion.
func (m SweepModel) Aborted() bool { return m.aborted }

// Update handles input and updates the model
func (m SweepModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(msg.Width-4, 80))

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keyQuit):
			m.aborted = !m.finished
			return m, tea.Quit
		case key.Matches(msg, keyOK) && !m.started:
			m.source.Start()
			m.started = true
		}

	case tickMsg:
		m.last = m.source.Progress()
		if m.onProgress != nil && m.started {
			m.onProgress(m.last)
		}
		if m.last.Finished {
			m.finished = true
			return m, tea.Quit
		}
		return m, m.tick()
	}
	return m, nil
}

// View renders the UI
func (m SweepModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Frequency Response Sweep"))
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Output: %s\nInput:  %s\nRate:   %.0f Hz\nFile:   %s\n\n",
		m.info.Output, m.info.Input, m.info.SampleRate, m.info.OutputFile)

	peak := fmt.Sprintf("Input peak: %6.1f dBFS", m.last.PeakDBFS)
	if m.last.PeakDBFS >= thresholdDBFS {
		peak = warnStyle.Render(peak + " (above silence threshold)")
	}
	sb.WriteString(peak)
	sb.WriteString("\n\n")

	switch {
	case m.finished:
		sb.WriteString(m.bar.ViewAs(1))
		fmt.Fprintf(&sb, "\n\nDone. %s\n", m.last)
	case !m.started:
		sb.WriteString("Connect the output to the system under test and its response to the input.\n")
		sb.WriteString(infoStyle.Render("Enter: Start sweep • q: Quit"))
	default:
		sb.WriteString(m.bar.ViewAs(m.last.Fraction()))
		fmt.Fprintf(&sb, "\n\n%s  %s\n", m.last, m.last.Phase)
		sb.WriteString(infoStyle.Render("q: Abort"))
	}
	return sb.String()
}

// RunSweep shows the sweep view until the sweep finishes. It returns
// ErrCancelled if the operator quits first.
func RunSweep(source SweepSource, info SweepInfo, interval time.Duration, onProgress func(measure.Progress)) error {
	p := tea.NewProgram(NewSweepModel(source, info, interval, onProgress), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m := final.(SweepModel); !m.Finished() {
		return ErrCancelled
	}
	return nil
}
