// SPDX-License-Identifier: MIT

// Package build exposes the name, version and commit stamped into the binary
// with -ldflags "-X visualizer/pkg/build.buildVersion=...".
package build

import (
	"fmt"
	"strings"
)

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

const description = "Render a raw PCM stream as a live spectrum video in an AVI stream"

// Set by -ldflags. Unset values leave the development defaults in place.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:        "visualizer",
		Description: description,
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "unknown",
	}
)

// Initialize copies the linker-provided values into the build info. When any
// is missing it reports which ones and leaves the defaults untouched.
func Initialize() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"buildName", buildName},
		{"buildTime", buildTime},
		{"buildCommit", buildCommit},
		{"buildVersion", buildVersion},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("build flags not set: %s", strings.Join(missing, ", "))
	}

	*buildFlags = ldFlags{
		Name:        buildName,
		Description: description,
		Time:        buildTime,
		Commit:      buildCommit,
		Version:     buildVersion,
	}
	return nil
}

// GetBuildFlags returns the build info used by --version and --help.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
