// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ptrace attaches to a running process via the kernel's
// debugging facility, freezes it, and reads words, byte ranges, and
// NUL-terminated strings out of its address space. It never writes to
// the target.
package ptrace

import (
	"encoding/binary"
	"fmt"

	"github.com/Roguelazer/pystack/internal/perrors"
)

// wordSize is the size in bytes of a machine word on the only
// architecture this package supports, amd64.
const wordSize = 8

// Address is a virtual address inside a target process.
type Address uint64

// Reader is the read-only subset of Target's contract that the stack
// walker needs. Extracted as an interface so internal/stackwalk and
// internal/sampler can be tested against a fake in-memory target.
type Reader interface {
	PeekWord(addr Address) (uint64, error)
	PeekString(addr Address) (string, error)
	PeekBytes(addr Address, n int) ([]byte, error)
}

// Target is an attached, stopped process. It is exclusively owned by
// the sampler: only one goroutine should ever call methods on it, and
// every ptrace syscall it issues runs on the same locked OS thread that
// performed the attach, because Linux ptrace state is per-thread.
//
// A Target is created by Attach and is invalid after Detach returns,
// whether or not Detach succeeded.
type Target struct {
	pid int
	fc  chan func() error
	ec  chan error
}

// Attach stops pid and takes on the role of its debugger. It blocks
// until the kernel confirms the target has stopped.
func Attach(pid int) (*Target, error) {
	t := &Target{
		pid: pid,
		fc:  make(chan func() error),
		ec:  make(chan error),
	}
	go t.run()
	if err := t.call(func() error { return ptraceAttach(pid) }); err != nil {
		close(t.fc)
		return nil, perrors.Wrap(perrors.KindAttach, true, err, "failed to attach")
	}
	if err := t.call(func() error { return ptraceWaitStopped(pid) }); err != nil {
		close(t.fc)
		return nil, perrors.Wrap(perrors.KindAttach, true, err, "failed to wait for stop")
	}
	return t, nil
}

// Detach releases the target, allowing it to resume. The Target must
// not be used again afterwards, regardless of the returned error.
func (t *Target) Detach() error {
	err := t.call(func() error { return ptraceDetach(t.pid) })
	close(t.fc)
	if err != nil {
		return perrors.Wrap(perrors.KindDetach, true, err, "failed to detach")
	}
	return nil
}

// run pins the goroutine to one OS thread and executes every closure
// sent on fc on that thread, reporting the result on ec. Modelled on
// the program/server package's ptraceRun goroutine.
func (t *Target) run() {
	lockOSThread()
	for f := range t.fc {
		t.ec <- f()
	}
}

func (t *Target) call(f func() error) error {
	t.fc <- f
	return <-t.ec
}

// PeekWord reads one machine word from addr. addr is assumed to be
// word-aligned; behavior for unaligned addresses is whatever the
// underlying PTRACE_PEEKDATA call does.
func (t *Target) PeekWord(addr Address) (word uint64, err error) {
	var buf [wordSize]byte
	cerr := t.call(func() error {
		n, perr := ptracePeek(t.pid, uintptr(addr), buf[:])
		if perr != nil {
			return perr
		}
		if n != len(buf) {
			return errShortPeek(n, len(buf))
		}
		return nil
	})
	if cerr != nil {
		return 0, perrors.Wrap(perrors.KindPeek, true, cerr, "peek word")
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// PeekString reads successive words starting at addr until a zero byte
// appears in one of them, and returns the bytes preceding that zero.
func (t *Target) PeekString(addr Address) (string, error) {
	return peekString(t.PeekWord, addr)
}

// PeekBytes reads n bytes starting at addr, rounded up to a whole
// number of words; the caller is told the effective (rounded) length.
func (t *Target) PeekBytes(addr Address, n int) ([]byte, error) {
	return peekBytes(t.PeekWord, addr, n)
}

// peekString and peekBytes are factored out of the Target methods above
// so their chunking/termination logic can be unit-tested against a fake
// word source, without a real traced process.
func peekString(peekWord func(Address) (uint64, error), addr Address) (string, error) {
	var out []byte
	off := Address(0)
	for {
		word, err := peekWord(addr + off)
		if err != nil {
			return "", err
		}
		var chunk [wordSize]byte
		binary.LittleEndian.PutUint64(chunk[:], word)
		if i := indexZero(chunk[:]); i >= 0 {
			out = append(out, chunk[:i]...)
			return string(out), nil
		}
		out = append(out, chunk[:]...)
		off += wordSize
	}
}

func peekBytes(peekWord func(Address) (uint64, error), addr Address, n int) ([]byte, error) {
	rounded := ((n + wordSize - 1) / wordSize) * wordSize
	out := make([]byte, 0, rounded)
	for off := 0; off < rounded; off += wordSize {
		word, err := peekWord(addr + Address(off))
		if err != nil {
			return nil, err
		}
		var chunk [wordSize]byte
		binary.LittleEndian.PutUint64(chunk[:], word)
		out = append(out, chunk[:]...)
	}
	return out, nil
}

func errShortPeek(got, want int) error {
	return fmt.Errorf("peeked %d bytes, want %d", got, want)
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
