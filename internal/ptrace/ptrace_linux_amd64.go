// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ptrace

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func lockOSThread() {
	runtime.LockOSThread()
}

func ptraceAttach(pid int) error {
	return unix.PtraceAttach(pid)
}

// ptraceWaitStopped blocks until pid reports a stop, the way
// PtraceAttach(pid) / wait(nullptr) does in the original C++
// (original_source/src/ptrace.cc's PtraceAttach).
func ptraceWaitStopped(pid int) error {
	var status unix.WaitStatus
	_, err := unix.Wait4(pid, &status, 0, nil)
	return err
}

func ptraceDetach(pid int) error {
	return unix.PtraceDetach(pid)
}

// ptracePeek reads len(out) bytes from the target at addr. Unlike the
// raw libc ptrace(2) PTRACE_PEEKDATA call the original C++ used (which
// returns -1 on both legitimate data and error, requiring callers to
// consult errno separately), golang.org/x/sys/unix.PtracePeekData
// already reports faults through its error return.
func ptracePeek(pid int, addr uintptr, out []byte) (int, error) {
	return unix.PtracePeekData(pid, addr, out)
}
