// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build pystack_py2

package pylayout

import "github.com/Roguelazer/pystack/internal/ptrace"

// Python 2.7 PyStringObject layout (Include/stringobject.h):
//
//	PyObject_VAR_HEAD   // ob_refcnt(8) + ob_type(8) + ob_size(8)
//	long ob_shash;      // 8
//	int ob_sstate;      // 4
//	char ob_sval[1];    // immediately follows, no padding (char align 1)
const (
	v2StringSizeOffset = 16
	v2StringDataOffset = 36
)

// PyThreadState.frame, PyFrameObject.{f_back,f_code,f_lineno}, and
// PyCodeObject.co_filename offsets for CPython 2.7 (Include/pystate.h,
// Include/frameobject.h, Include/code.h).
const (
	v2ThreadStateFrame = 16
	v2FrameBack        = 24
	v2FrameCode        = 32
	v2FrameLineno      = 124
	v2CodeFilename     = 80
)

type v2Layout struct{}

func (v2Layout) StringSize(base ptrace.Address) ptrace.Address {
	return base + v2StringSizeOffset
}

func (v2Layout) StringData(base ptrace.Address) ptrace.Address {
	return base + v2StringDataOffset
}

func current() Layout { return v2Layout{} }

func currentFrameOffsets() FrameOffsets {
	return FrameOffsets{
		ThreadStateFrame: v2ThreadStateFrame,
		FrameBack:        v2FrameBack,
		FrameCode:        v2FrameCode,
		FrameLineno:      v2FrameLineno,
		CodeFilename:     v2CodeFilename,
	}
}
