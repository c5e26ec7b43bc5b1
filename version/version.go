// Package version holds build metadata injected via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// NAME is the project name.
	NAME = "Pupa"
	// VERSION is the release version, set at build time.
	VERSION = "unknown"
	// REVISION is the git commit hash, set at build time.
	REVISION = "unknown"
	// BUILTAT is the build timestamp, set at build time.
	BUILTAT = "unknown"
)

// String renders the version block printed by the version command.
func String() string {
	version := ""
	version += fmt.Sprintf("Version:        %s\n", VERSION)
	version += fmt.Sprintf("Git hash:       %s\n", REVISION)
	version += fmt.Sprintf("Built:          %s\n", BUILTAT)
	version += fmt.Sprintf("Golang version: %s\n", runtime.Version())
	version += fmt.Sprintf("OS/Arch:        %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return version
}
