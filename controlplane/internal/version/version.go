package version

import (
	"runtime/debug"
)

// version is the version of the switch agent.
//
// This value is expected to be set via build-time injection.
var version string

// Version returns the version of the switch agent, falling back to the
// module version recorded in the binary.
func Version() string {
	if version != "" {
		return version
	}

	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "unknown"
	}
	return info.Main.Version
}
