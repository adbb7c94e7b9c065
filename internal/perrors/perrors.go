// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package perrors classifies the failures that can occur while sampling
// a traced process into a single error kind carrying a fatal/non-fatal
// flag, instead of a zoo of unrelated error types. Fatal errors abort the
// whole run; non-fatal errors are reported and the sampling loop
// continues (see internal/sampler).
package perrors

import (
	"errors"
	"fmt"
)

// Kind identifies which stage of the pipeline produced an error.
type Kind int

const (
	// KindAttach: the kernel refused to let us trace the target.
	KindAttach Kind = iota
	// KindDetach: the kernel refused to release the target.
	KindDetach
	// KindPeek: a word/string/byte-range read against the target faulted.
	KindPeek
	// KindFormat: a /proc/<pid>/maps line was missing an expected
	// delimiter or could not be read, the main executable could not be
	// found, or a PID argument was malformed or out of range.
	KindFormat
	// KindUnsupportedELF: the image could not be opened or mapped, or is
	// not a 64-bit ELF file.
	KindUnsupportedELF
	// KindMissingSection: .dynamic, .dynstr, or .dynsym was not found.
	KindMissingSection
	// KindSymbolNotFound: the thread-state symbol could not be resolved
	// in the primary image or any of its direct DT_NEEDED dependencies.
	KindSymbolNotFound
	// KindWalk: the frame chain could not be fully traversed for one
	// sample. Always non-fatal.
	KindWalk
)

func (k Kind) String() string {
	switch k {
	case KindAttach:
		return "attach"
	case KindDetach:
		return "detach"
	case KindPeek:
		return "peek"
	case KindFormat:
		return "format"
	case KindUnsupportedELF:
		return "unsupported-elf"
	case KindMissingSection:
		return "missing-section"
	case KindSymbolNotFound:
		return "symbol-not-found"
	case KindWalk:
		return "walk"
	default:
		return "unknown"
	}
}

// Error is the single result-error kind used throughout the core: a
// Kind tag, a Fatal flag telling the caller whether to abort the whole
// run or merely report and continue, and the wrapped underlying cause.
type Error struct {
	Kind  Kind
	Fatal bool
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind and fatality from a format string.
func New(kind Kind, fatal bool, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Fatal: fatal, Err: fmt.Errorf(format, args...)}
}

// Wrap builds an Error of the given kind and fatality around an existing
// error, adding context.
func Wrap(kind Kind, fatal bool, err error, context string) *Error {
	return &Error{Kind: kind, Fatal: fatal, Err: fmt.Errorf("%s: %w", context, err)}
}

// IsFatal reports whether err, if it is (or wraps) an *Error, is fatal.
// A non-*Error err is treated as fatal, since it did not go through our
// classification and we have no basis for treating it as recoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal
	}
	return true
}
