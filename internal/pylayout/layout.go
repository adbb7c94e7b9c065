// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pylayout translates CPython object addresses into the
// addresses of the fields the stack walker needs, for whichever major
// interpreter version this binary was built against. It performs no
// I/O: every function here is a pure offset computation.
//
// The choice of layout is made once per build, by a Go build
// constraint (pystack_py2 selects the Python 2 layout in layout_v2.go;
// the default, unconstrained build uses the Python 3 layout in
// layout_v3.go) rather than at runtime, per Design Note 9 of the
// specification this package implements: the decision is made once per
// build, so runtime polymorphism would just be paying for a dispatch
// nothing ever varies.
package pylayout

import "github.com/Roguelazer/pystack/internal/ptrace"

// Layout answers where, inside a live target, the size and character
// data of a Python string object live, given the object's base address.
type Layout interface {
	// StringSize returns the address of the string's length field.
	StringSize(base ptrace.Address) ptrace.Address
	// StringData returns the address of the string's first character.
	// For the Python 3 layout this is only correct for compact ASCII
	// strings; see layout_v3.go.
	StringData(base ptrace.Address) ptrace.Address
}

// Current is the Layout selected for this build.
var Current Layout = current()

// Offsets consumed by internal/stackwalk while following the thread
// state -> frame -> code object chain. These hold regardless of major
// version: both CPython 2.7 and 3.x keep the same shape for the fields
// the walker needs, though the exact byte offsets differ and are
// supplied per-version in layout_v2.go / layout_v3.go.
type FrameOffsets struct {
	// ThreadStateFrame is the offset of PyThreadState.frame.
	ThreadStateFrame ptrace.Address
	// FrameBack is the offset of PyFrameObject.f_back.
	FrameBack ptrace.Address
	// FrameCode is the offset of PyFrameObject.f_code.
	FrameCode ptrace.Address
	// FrameLineno is the offset of PyFrameObject.f_lineno.
	FrameLineno ptrace.Address
	// CodeFilename is the offset of PyCodeObject.co_filename.
	CodeFilename ptrace.Address
}

// CurrentFrameOffsets are the FrameOffsets for this build's interpreter
// version.
var CurrentFrameOffsets = currentFrameOffsets()
