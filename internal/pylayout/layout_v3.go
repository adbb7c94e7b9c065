// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !pystack_py2

package pylayout

import "github.com/Roguelazer/pystack/internal/ptrace"

// Python 3's string objects no longer have a single concrete type;
// StringSize reads the generic PyVarObject.ob_size field shared by every
// variable-length object, and StringData assumes the compact-ASCII fast
// path (PyASCIIObject, Include/cpython/unicodeobject.h):
//
//	PyObject_HEAD       // ob_refcnt(8) + ob_type(8)
//	Py_ssize_t length;   // offset 16, aliases PyVarObject.ob_size
//	Py_hash_t hash;      // offset 24
//	struct { ... } state;// offset 32 (bitfield, stored as unsigned int)
//	wchar_t *wstr;       // offset 40, padded to 8
//
// sizeof(PyASCIIObject) == 48, so the first character of a compact ASCII
// string's inline buffer sits immediately after the header. Non-ASCII
// and legacy (PyUnicodeObject with a separate buffer) strings are not
// handled: this is the known limitation from Design Note 9.
const (
	v3StringSizeOffset = 16
	v3StringDataOffset = 48
)

// PyThreadState.frame, PyFrameObject.{f_back,f_code,f_lineno}, and
// PyCodeObject.co_filename offsets for the pre-3.11 CPython 3 frame
// layout (Include/cpython/pystate.h, Include/cpython/frameobject.h,
// Include/cpython/code.h), which is the last layout where frames are
// still plain heap objects the way the original C++ assumed.
const (
	v3ThreadStateFrame = 24
	v3FrameBack        = 24
	v3FrameCode        = 32
	v3FrameLineno      = 108
	v3CodeFilename     = 96
)

type v3Layout struct{}

func (v3Layout) StringSize(base ptrace.Address) ptrace.Address {
	return base + v3StringSizeOffset
}

func (v3Layout) StringData(base ptrace.Address) ptrace.Address {
	return base + v3StringDataOffset
}

func current() Layout { return v3Layout{} }

func currentFrameOffsets() FrameOffsets {
	return FrameOffsets{
		ThreadStateFrame: v3ThreadStateFrame,
		FrameBack:        v3FrameBack,
		FrameCode:        v3FrameCode,
		FrameLineno:      v3FrameLineno,
		CodeFilename:     v3CodeFilename,
	}
}
