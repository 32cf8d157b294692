// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package spool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const directoryOpenFlags = unix.O_RDONLY | unix.O_DIRECTORY | unix.O_NOFOLLOW | unix.O_CLOEXEC

// newFileFlags create a file that did not exist, refusing symlinks.
const newFileFlags = unix.O_CREAT | unix.O_WRONLY | unix.O_TRUNC | unix.O_EXCL | unix.O_NOFOLLOW | unix.O_CLOEXEC

// newFileMode is the permission of every artifact before umask.
const newFileMode = 0o644

// Settings are the ownership and permissions a provisioned directory
// must end up with.
type Settings struct {
	// Mode is the full permission word including setuid, setgid, and
	// sticky bits, e.g. 0o1755.
	Mode uint32
	UID  int
	GID  int
}

// Directory is a provisioned spool directory held open by descriptor.
// All access goes through the descriptor so renaming or replacing the
// original path after provisioning has no effect.
type Directory struct {
	fd   int
	name string
}

// Provision opens the directory at path, creating or repairing its final
// component to match settings. Every parent component must already exist
// as a real directory; a symlink anywhere in the path is refused. If the
// final component exists but is not a directory (including a symlink),
// it is unlinked and replaced. An existing directory is never recreated,
// only has its owner and mode corrected.
func Provision(path string, settings Settings) (*Directory, error) {
	cleaned := filepath.Clean(path)
	if !filepath.IsAbs(cleaned) || cleaned == "/" {
		return nil, fmt.Errorf("crash directory %q must be an absolute path below /", path)
	}
	components := strings.Split(strings.TrimPrefix(cleaned, "/"), "/")

	fd, err := unix.Open("/", unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening /: %w", err)
	}

	walked := ""
	for _, component := range components[:len(components)-1] {
		walked += "/" + component
		next, err := unix.Openat(fd, component, directoryOpenFlags, 0)
		unix.Close(fd)
		if err != nil {
			return nil, fmt.Errorf("opening parent %s: %w", walked, err)
		}
		fd = next
	}

	final := components[len(components)-1]
	directoryFd, err := openOrCreateDirectory(fd, final)
	unix.Close(fd)
	if err != nil {
		return nil, fmt.Errorf("provisioning %s: %w", cleaned, err)
	}

	if err := applySettings(directoryFd, settings); err != nil {
		unix.Close(directoryFd)
		return nil, fmt.Errorf("provisioning %s: %w", cleaned, err)
	}
	return &Directory{fd: directoryFd, name: cleaned}, nil
}

// openOrCreateDirectory opens name under parent as a directory, creating
// it if absent and replacing it if it is anything other than a directory.
func openOrCreateDirectory(parent int, name string) (int, error) {
	fd, err := unix.Openat(parent, name, directoryOpenFlags, 0)
	switch {
	case err == nil:
		return fd, nil
	case errors.Is(err, unix.ENOENT):
	case errors.Is(err, unix.ENOTDIR), errors.Is(err, unix.ELOOP):
		if err := unix.Unlinkat(parent, name, 0); err != nil && !errors.Is(err, unix.ENOENT) {
			return -1, fmt.Errorf("removing non-directory: %w", err)
		}
	default:
		return -1, fmt.Errorf("opening: %w", err)
	}

	// Created 0700 and widened by applySettings once the owner is right.
	if err := unix.Mkdirat(parent, name, 0o700); err != nil && !errors.Is(err, unix.EEXIST) {
		return -1, fmt.Errorf("creating: %w", err)
	}
	fd, err = unix.Openat(parent, name, directoryOpenFlags, 0)
	if err != nil {
		return -1, fmt.Errorf("opening after create: %w", err)
	}
	return fd, nil
}

// applySettings corrects owner before mode, and only touches either when
// it differs.
func applySettings(fd int, settings Settings) error {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if int(stat.Uid) != settings.UID || int(stat.Gid) != settings.GID {
		if err := unix.Fchown(fd, settings.UID, settings.GID); err != nil {
			return fmt.Errorf("chown to %d:%d: %w", settings.UID, settings.GID, err)
		}
	}
	if stat.Mode&0o7777 != settings.Mode {
		if err := unix.Fchmod(fd, settings.Mode); err != nil {
			return fmt.Errorf("chmod to %#o: %w", settings.Mode, err)
		}
	}
	return nil
}

// Path returns a descriptor-backed path to the directory. It stays valid
// until Close and always names the provisioned directory.
func (d *Directory) Path() string {
	return fmt.Sprintf("/proc/self/fd/%d", d.fd)
}

// Name returns the path the directory was provisioned at, for logging.
func (d *Directory) Name() string {
	return d.name
}

// Close releases the descriptor.
func (d *Directory) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

// HasCapacity reports whether the directory can accept another report.
func (d *Directory) HasCapacity() (bool, error) {
	return HasCapacity(d.Path())
}

// WriteNewFile creates name inside the directory and writes data to it,
// returning the number of bytes written. It fails if name already exists
// in any form, including as a dangling symlink.
func (d *Directory) WriteNewFile(name string, data []byte) (int, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return 0, fmt.Errorf("invalid artifact name %q", name)
	}
	fd, err := unix.Openat(d.fd, name, newFileFlags, newFileMode)
	if err != nil {
		return 0, fmt.Errorf("creating %s/%s: %w", d.name, name, err)
	}
	return writeAndClose(fd, filepath.Join(d.name, name), data)
}

// WriteNewFile creates the file at path and writes data to it, returning
// the number of bytes written. The final component must not exist in any
// form; a symlink there is never followed.
func WriteNewFile(path string, data []byte) (int, error) {
	fd, err := unix.Open(path, newFileFlags, newFileMode)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	return writeAndClose(fd, path, data)
}

func writeAndClose(fd int, name string, data []byte) (int, error) {
	file := os.NewFile(uintptr(fd), name)
	written, err := file.Write(data)
	closeErr := file.Close()
	if err != nil {
		return written, fmt.Errorf("writing %s: %w", name, err)
	}
	if closeErr != nil {
		return written, fmt.Errorf("closing %s: %w", name, closeErr)
	}
	return written, nil
}

// Admit provisions the directory at path and checks it has room for one
// more report. A full directory is closed and reported as
// [ErrDirectoryFull].
func Admit(path string, settings Settings) (*Directory, error) {
	directory, err := Provision(path, settings)
	if err != nil {
		return nil, err
	}
	hasCapacity, err := directory.HasCapacity()
	if err != nil {
		directory.Close()
		return nil, err
	}
	if !hasCapacity {
		directory.Close()
		return nil, fmt.Errorf("%s already holds %d reports: %w", path, MaxCrashDirectorySize, ErrDirectoryFull)
	}
	return directory, nil
}
