// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

// ErrUsage marks an error caused by how the binary was invoked. Wrap it
// so the binary exits with status 2.
var ErrUsage = errors.New("usage error")

// ExitCode maps the error returned by run() to a process exit status:
// 0 for success or --help, 2 for usage errors, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.Is(err, ErrUsage):
		return 2
	default:
		return 1
	}
}

// Report writes "<program>: error: <err>" to w unless err carries a
// zero exit status.
func Report(w io.Writer, program string, err error) {
	if ExitCode(err) == 0 {
		return
	}
	fmt.Fprintf(w, "%s: error: %v\n", program, err)
}

// Exit reports err on stderr and exits with [ExitCode]. Use it in main()
// for errors from run(), where the structured logger may not exist yet.
func Exit(program string, err error) {
	Report(os.Stderr, program, err)
	os.Exit(ExitCode(err))
}
