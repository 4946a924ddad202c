// SPDX-License-Identifier: MIT
package report

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"freqresp/internal/config"
	"freqresp/internal/measure"
	"freqresp/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBins = []measure.Bin{
	{Index: 0, Frequency: 0, Amplitude: 0.42, Phase: 0},
	{Index: 1, Frequency: 23.4375, Amplitude: 0.2099, Phase: -math.Pi / 2},
	{Index: 1024, Frequency: 24000, Amplitude: 1e-7, Phase: math.Pi},
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testBins))

	want := "0.000000 0.420000 0.000000\n" +
		"23.437500 0.209900 -1.570796\n" +
		"24000.000000 0.000000 3.141593\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))
	assert.Empty(t, buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteError(t *testing.T) {
	err := Write(failingWriter{}, testBins)
	assert.ErrorContains(t, err, "disk full")
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.DefaultOutputFile)
	require.NoError(t, Save(path, testBins))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.Len(t, lines, len(testBins))
	assert.Equal(t, "0.000000 0.420000 0.000000", lines[0])

	// Saving again truncates.
	require.NoError(t, Save(path, testBins[:1]))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0.000000 0.420000 0.000000\n", string(data))
}

func TestSaveCreateError(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "missing", "response.dat"), testBins)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSaveFullSweep(t *testing.T) {
	s, err := measure.NewSession(config.DefaultSampleRate)
	require.NoError(t, err)
	s.Start()
	utils.Drive(s, func(int) float32 { return 0 }, []int{config.DefaultFramesPerBuffer}, s.Finished, 4_000_000)
	require.True(t, s.Finished())

	bins, err := s.Results()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), config.DefaultOutputFile)
	require.NoError(t, Save(path, bins))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(data), "\n"))
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, measure.Bins)

	prev := -1.0
	for i, line := range lines {
		fields := strings.Fields(line)
		require.Len(t, fields, 3, "line %d", i)
		freq, err := strconv.ParseFloat(fields[0], 64)
		require.NoError(t, err, "line %d", i)
		assert.Greater(t, freq, prev, "line %d", i)
		prev = freq
	}
	assert.True(t, strings.HasPrefix(lines[0], "0.000000 "))
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "24000.000000 "))
}
