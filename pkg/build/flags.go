// SPDX-License-Identifier: MIT
//
// Package build carries the build metadata embedded at link time:
//
//	go build -ldflags "-X freqresp/pkg/build.buildName=freqresp \
//	  -X freqresp/pkg/build.buildVersion=0.3.0 \
//	  -X freqresp/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	  -X freqresp/pkg/build.buildTime=$(date -u +%FT%TZ)"
//
// Development builds without ldflags fall back to the module version and
// VCS stamp recorded by the Go toolchain.
package build

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrMissingFlag is returned by Initialize for each ldflag left unset.
var ErrMissingFlag = errors.New("build: missing ldflag")

// Info is the build metadata shown by the CLI.
type Info struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String renders "version (commit, time)".
func (i Info) String() string {
	return fmt.Sprintf("%s (%s, %s)", i.Version, i.Commit, i.Time)
}

// Package-level variables for build information. These are populated by
// -ldflags during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = defaultInfo()

	readBuildInfo = debug.ReadBuildInfo
)

func defaultInfo() *Info {
	return &Info{
		Name:        "freqresp",
		Description: "Measure the frequency response of an audio loop, one FFT bin at a time",
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
}

// Initialize copies the ldflags into the build information. Flags that are
// missing keep their fallback values and are reported together in the
// returned error, which callers treat as a warning.
func Initialize() error {
	info := defaultInfo()
	fromToolchain(info)

	var errs []error
	set := func(dst *string, val, flag string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingFlag, flag))
			return
		}
		*dst = val
	}
	set(&info.Name, buildName, "buildName")
	set(&info.Time, buildTime, "buildTime")
	set(&info.Commit, buildCommit, "buildCommit")
	set(&info.Version, buildVersion, "buildVersion")

	buildFlags = info
	return errors.Join(errs...)
}

// fromToolchain fills version and VCS fields from the binary's embedded
// build information, when present.
func fromToolchain(info *Info) {
	bi, ok := readBuildInfo()
	if !ok {
		return
	}
	if v := bi.Main.Version; v != "" && v != "(devel)" {
		info.Version = v
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
			if len(info.Commit) > 12 {
				info.Commit = info.Commit[:12]
			}
		case "vcs.time":
			info.Time = s.Value
		}
	}
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Info {
	return buildFlags
}
