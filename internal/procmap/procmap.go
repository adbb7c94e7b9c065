// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package procmap parses /proc/<pid>/maps to locate the shared library
// backing a running interpreter inside a target process's randomised
// address space. Ported in spirit from original_source/src/aslr.cc's
// LocateLibPython.
package procmap

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Roguelazer/pystack/internal/perrors"
)

// execPermString is the kernel's rendering of a readable, executable,
// private mapping: the permission field of a code segment.
const execPermString = "r-xp"

// Entry is one parsed line of /proc/<pid>/maps.
type Entry struct {
	Start, End uint64
	Perms      string
	Path       string
}

// Find scans /proc/<pid>/maps top to bottom for the first line that
// contains both hint and "r-xp" (anywhere in the line, not only in the
// backing path and permission field), and returns its load base and
// absolute path. A zero load base with no error and no path means no
// match was found; the caller treats that as "not a separate shared
// library" and falls back to the main executable.
func Find(pid int, hint string) (loadBase uint64, path string, err error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return 0, "", perrors.Wrap(perrors.KindFormat, true, err, "open maps")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, hint) || !strings.Contains(line, execPermString) {
			continue
		}
		entry, perr := parseLine(line)
		if perr != nil {
			return 0, "", perr
		}
		return entry.Start, entry.Path, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, "", perrors.Wrap(perrors.KindFormat, true, err, "read maps")
	}
	return 0, "", nil
}

// parseLine extracts the fields of one /proc/<pid>/maps line of the
// form "start-end perms offset dev inode path".
func parseLine(line string) (Entry, error) {
	slash := strings.IndexByte(line, '/')
	if slash < 0 {
		return Entry{}, perrors.New(perrors.KindFormat, true, "maps line has no path: %q", line)
	}
	path := line[slash:]

	dash := strings.IndexByte(line, '-')
	if dash < 0 {
		return Entry{}, perrors.New(perrors.KindFormat, true, "maps line has no address range: %q", line)
	}
	start, err := strconv.ParseUint(line[:dash], 16, 64)
	if err != nil {
		return Entry{}, perrors.Wrap(perrors.KindFormat, true, err, "parse start address")
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Entry{}, perrors.New(perrors.KindFormat, true, "maps line missing fields: %q", line)
	}
	rangeParts := strings.SplitN(fields[0], "-", 2)
	end := start
	if len(rangeParts) == 2 {
		if e, err := strconv.ParseUint(rangeParts[1], 16, 64); err == nil {
			end = e
		}
	}

	return Entry{
		Start: start,
		End:   end,
		Perms: fields[1],
		Path:  path,
	}, nil
}
