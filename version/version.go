// Package version reports build information and the entity type format
// version that fixtures and serialized type descriptors are checked against.
package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/entitystore/errors"
)

// Build information. These variables are set at build time via ldflags.
var (
	// CommitHash is the git commit hash when the binary was built
	CommitHash = "dev"

	// BuildTime is when the binary was built
	BuildTime = "unknown"

	// Version is the semantic version (if tagged)
	Version = "dev"
)

// FormatVersion is the version of the entity type descriptor format.
// Descriptors written by any 1.x release can be resolved.
const FormatVersion = "1.2.0"

// formatConstraint accepts descriptors from the same major format line
const formatConstraint = "^1.0.0"

// Info contains version and build information
type Info struct {
	CommitHash    string `json:"commit_hash" yaml:"commit_hash"`
	BuildTime     string `json:"build_time" yaml:"build_time"`
	Version       string `json:"version" yaml:"version"`
	FormatVersion string `json:"format_version" yaml:"format_version"`
	GoVersion     string `json:"go_version" yaml:"go_version"`
	Platform      string `json:"platform" yaml:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		CommitHash:    CommitHash,
		BuildTime:     BuildTime,
		Version:       Version,
		FormatVersion: FormatVersion,
		GoVersion:     runtime.Version(),
		Platform:      fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string
func (i Info) String() string {
	if i.Version != "dev" {
		return fmt.Sprintf("entitystore %s (commit %s, built %s)", i.Version, i.CommitHash, i.BuildTime)
	}
	return fmt.Sprintf("entitystore dev (commit %s, built %s)", i.CommitHash, i.BuildTime)
}

// Short returns a short version string with just the commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// Compatible reports whether a descriptor written with format version v can
// be read by this build. An empty version is treated as the current format.
func Compatible(v string) (bool, error) {
	if v == "" {
		return true, nil
	}
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return false, errors.Wrapf(errors.ErrInvalidRequest, "format version %q: %v", v, err)
	}
	constraint, err := semver.NewConstraint(formatConstraint)
	if err != nil {
		return false, errors.Wrap(err, "format constraint")
	}
	current := semver.MustParse(FormatVersion)
	// newer minor versions may carry fields this build does not know
	if parsed.GreaterThan(current) {
		return false, nil
	}
	return constraint.Check(parsed), nil
}
