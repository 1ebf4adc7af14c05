package build

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

// String returns a single human-readable build info string.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, CommitSHA, BuildDate)
}

// Semver parses Version as a semantic version. Dev builds return an error.
func Semver() (*semver.Version, error) {
	return parseVersion(Version)
}

func parseVersion(v string) (*semver.Version, error) {
	v = strings.TrimPrefix(v, "v")
	if v == "" || v == "dev" || v == "unknown" {
		return nil, fmt.Errorf("%q is not a release build", v)
	}
	sv, err := semver.StrictNewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("parsing version %q: %w", v, err)
	}
	return sv, nil
}
