// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stackwalk reconstructs a CPython call stack from a frozen
// target process: given the runtime address of the thread-state
// pointer slot, it dereferences the current frame, follows the frame
// linked list back to its root, and decodes each frame's source file
// and line number.
package stackwalk

import (
	"github.com/Roguelazer/pystack/internal/perrors"
	"github.com/Roguelazer/pystack/internal/pylayout"
	"github.com/Roguelazer/pystack/internal/ptrace"
)

// Frame is one call-stack activation: a source file and a 1-based line
// number, or line 0 if the interpreter had none to report.
type Frame struct {
	File string
	Line uint
}

// Walk dereferences threadStateAddr to find the thread state object,
// reads its current frame, and follows PyFrameObject.f_back until a
// nil pointer, decoding each frame along the way.
//
// The returned slice is ordered oldest-to-newest — the reverse of
// traversal order, since the frame chain is walked starting at the
// most recent (tip) frame — matching the Stack data model's
// construction order. Callers that want "most recent first" output
// reverse it themselves at the presentation boundary.
//
// Any read failure here is reported as a non-fatal *perrors.Error with
// Kind KindWalk: the target is frozen for the duration of one sample,
// so a failed read here means this one sample's snapshot could not be
// completed, not that the whole run should abort.
func Walk(r ptrace.Reader, threadStateAddr ptrace.Address, offsets pylayout.FrameOffsets, layout pylayout.Layout) ([]Frame, error) {
	threadState, err := r.PeekWord(threadStateAddr)
	if err != nil {
		return nil, wrapWalkErr(err, "read thread state pointer")
	}

	frameAddr := ptrace.Address(threadState) + offsets.ThreadStateFrame
	frameAddr, err = readWord(r, frameAddr, "read current frame")
	if err != nil {
		return nil, err
	}

	var visited []Frame // newest-first, as traversed; reversed before return
	for frameAddr != 0 {
		codeAddr, err := readWord(r, frameAddr+offsets.FrameCode, "read frame code object")
		if err != nil {
			return nil, err
		}

		linenoWord, err := r.PeekWord(frameAddr + offsets.FrameLineno)
		if err != nil {
			return nil, wrapWalkErr(err, "read frame line number")
		}
		lineno := uint(uint32(linenoWord))

		filenameObj, err := readWord(r, codeAddr+offsets.CodeFilename, "read code filename object")
		if err != nil {
			return nil, err
		}

		filename, err := r.PeekString(layout.StringData(ptrace.Address(filenameObj)))
		if err != nil {
			return nil, wrapWalkErr(err, "read filename characters")
		}

		visited = append(visited, Frame{File: filename, Line: lineno})

		frameAddr, err = readWord(r, frameAddr+offsets.FrameBack, "read previous frame")
		if err != nil {
			return nil, err
		}
	}

	return reversed(visited), nil
}

func readWord(r ptrace.Reader, addr ptrace.Address, context string) (ptrace.Address, error) {
	word, err := r.PeekWord(addr)
	if err != nil {
		return 0, wrapWalkErr(err, context)
	}
	return ptrace.Address(word), nil
}

func wrapWalkErr(err error, context string) error {
	return perrors.Wrap(perrors.KindWalk, false, err, context)
}

func reversed(frames []Frame) []Frame {
	out := make([]Frame, len(frames))
	for i, f := range frames {
		out[len(frames)-1-i] = f
	}
	return out
}
