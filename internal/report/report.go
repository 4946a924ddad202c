// SPDX-License-Identifier: MIT

// Package report writes the measured response as plain text, one
// "<frequency Hz> <amplitude> <phase rad>" line per bin, ready for gnuplot.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"freqresp/internal/measure"
)

// Write formats bins to w in "%f %f %f\n" lines.
func Write(w io.Writer, bins []measure.Bin) error {
	bw := bufio.NewWriter(w)
	for _, b := range bins {
		if _, err := fmt.Fprintf(bw, "%f %f %f\n", b.Frequency, b.Amplitude, b.Phase); err != nil {
			return fmt.Errorf("report: write bin %d: %w", b.Index, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("report: flush: %w", err)
	}
	return nil
}

// Save creates or truncates path and writes bins to it. Any failure,
// including on close, is returned.
func Save(path string, bins []measure.Bin) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("report: close %s: %w", path, cerr)
		}
	}()

	return Write(f, bins)
}
