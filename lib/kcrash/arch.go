// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kcrash

import (
	"fmt"
	"runtime"
	"strings"
)

// Arch is the CPU architecture a kernel dump was produced on. It selects
// the program counter pattern used to find the crashing function.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchARM
	ArchMIPS
	ArchX86
	ArchX86_64
)

func (a Arch) String() string {
	switch a {
	case ArchARM:
		return "arm"
	case ArchMIPS:
		return "mips"
	case ArchX86:
		return "x86"
	case ArchX86_64:
		return "x86_64"
	default:
		return "unknown"
	}
}

// HostArch returns the architecture this binary was built for. 64-bit
// ARM kernels print the same "PC is at" line as 32-bit ones, so both map
// to [ArchARM].
func HostArch() Arch {
	switch runtime.GOARCH {
	case "arm", "arm64":
		return ArchARM
	case "mips", "mipsle", "mips64", "mips64le":
		return ArchMIPS
	case "386":
		return ArchX86
	case "amd64":
		return ArchX86_64
	default:
		return ArchUnknown
	}
}

// ParseArch parses a configured architecture name. "auto" and the empty
// string select [HostArch].
func ParseArch(name string) (Arch, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		return HostArch(), nil
	case "arm", "arm64":
		return ArchARM, nil
	case "mips":
		return ArchMIPS, nil
	case "x86", "i386", "386":
		return ArchX86, nil
	case "x86_64", "amd64":
		return ArchX86_64, nil
	default:
		return ArchUnknown, fmt.Errorf("unknown kernel architecture %q", name)
	}
}
