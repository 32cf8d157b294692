// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package crashmeta writes and reads the ".meta" sidecar that accompanies
// every crash report in the spool directory.
//
// A meta file is a block of key=value lines. Collector-specific extras
// come first, in the order they were added, followed by the fixed
// trailer:
//
//	sig=kernel-write_breakme-97D3E92F
//	upload_file_bios_log=/var/spool/crash/kernel.20261017.094107.0.bios_log
//	exec_name=kernel
//	ver=15474.0.0
//	payload=/var/spool/crash/kernel.20261017.094107.0.kcrash
//	payload_size=18342
//	done=1
//
// The uploader treats a meta file without done=1 as still being written.
// Meta files are only ever created, never overwritten: [Writer.Write]
// fails if anything, including a symlink, already occupies the path.
package crashmeta
