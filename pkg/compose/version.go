package compose

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a compose release, always "v" prefixed once normalized.
type Version struct {
	Version string
}

// NewVersion normalizes the output of `compose version --short`.
func NewVersion(version string) Version {
	version = strings.TrimSpace(version)

	ver := ""
	if strings.HasPrefix(version, "v") {
		ver = version
	} else if version != "" {
		ver = "v" + version
	}

	return Version{Version: ver}
}

// Valid reports whether the version could be parsed.
func (v Version) Valid() bool {
	return semver.IsValid(v.Version)
}

// IsPlugin reports whether the release is a docker CLI plugin (compose v2+),
// the only generation invoked as `docker compose`.
func (v Version) IsPlugin() bool {
	if !v.Valid() {
		return false
	}

	return semver.Compare(v.Version, "v2.0.0") >= 0
}
