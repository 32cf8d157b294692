// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the release version.
	Version = "0.1.0-dev"
)

// Info returns the --version line.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns Info plus the Go toolchain and platform, and the kernel
// dump architecture the binary assumes by default.
func Full(defaultArch fmt.Stringer) string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s\n  Kernel dump format: %s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH, defaultArch)
}
