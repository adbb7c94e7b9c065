// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elfimage memory-maps an ELF-64 file and parses just enough of
// its section table to enumerate DT_NEEDED entries and resolve a named
// dynamic symbol to its unrelocated virtual address. It does not use
// debug/elf: it is ported in spirit from original_source/src/symbol.cc,
// which walks the raw section table directly over an mmap'd image.
package elfimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/Roguelazer/pystack/internal/perrors"
	"golang.org/x/sys/unix"
)

// Section types and dynamic tags this package cares about. Values are
// the standard ELF constants (elf.h / <elf.h>).
const (
	shtNull    = 0
	shtStrtab  = 3
	shtDynamic = 6
	shtDynsym  = 11

	dtNeeded = 1
)

const elfClass64 = 2

// ehdrSize, shdrSize, dynSize, and symSize are the on-disk sizes of the
// ELF64 header, section header, Elf64_Dyn, and Elf64_Sym structures,
// respectively.
const (
	ehdrSize = 64
	shdrSize = 64
	dynSize  = 16
	symSize  = 24
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// Image is an ELF-64 file memory-mapped read-only into the sampler's
// own address space. Once Open and Parse have both succeeded, its three
// section indices are valid and refer to .dynamic, .dynstr, and
// .dynsym. Open on an already-open Image implicitly closes the
// previous mapping; Close is idempotent.
type Image struct {
	data    []byte
	dynamic int
	dynstr  int
	dynsym  int
}

// New returns an unopened Image.
func New() *Image {
	return &Image{dynamic: -1, dynstr: -1, dynsym: -1}
}

// Open memory-maps path read-only and validates its ELF64 header.
func (img *Image) Open(path string) error {
	img.Close()
	img.dynamic, img.dynstr, img.dynsym = -1, -1, -1

	f, err := os.Open(path)
	if err != nil {
		return perrors.Wrap(perrors.KindUnsupportedELF, true, err, "open "+path)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return perrors.Wrap(perrors.KindUnsupportedELF, true, err, "stat "+path)
	}
	length := int(fi.Size())
	if length < ehdrSize {
		return perrors.New(perrors.KindUnsupportedELF, true, "%s is too small to be an ELF file", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return perrors.Wrap(perrors.KindUnsupportedELF, true, err, "mmap "+path)
	}
	img.data = data

	if !bytes.Equal(img.data[0:4], elfMagic) {
		img.Close()
		return perrors.New(perrors.KindUnsupportedELF, true, "%s does not have the ELF magic header", path)
	}
	if img.data[4] != elfClass64 {
		img.Close()
		return perrors.New(perrors.KindUnsupportedELF, true, "%s is not a 64-bit ELF file", path)
	}
	return nil
}

// Close unmaps the image. It is idempotent.
func (img *Image) Close() error {
	if img.data == nil {
		return nil
	}
	err := unix.Munmap(img.data)
	img.data = nil
	return err
}

func (img *Image) u16(off int) uint16 { return binary.LittleEndian.Uint16(img.data[off:]) }
func (img *Image) u32(off int) uint32 { return binary.LittleEndian.Uint32(img.data[off:]) }
func (img *Image) u64(off int) uint64 { return binary.LittleEndian.Uint64(img.data[off:]) }
func (img *Image) i64(off int) int64  { return int64(img.u64(off)) }

const (
	offShoff    = 0x28
	offShentsz  = 0x3A
	offShnum    = 0x3C
	offShstrndx = 0x3E
)

func (img *Image) shoff() uint64  { return img.u64(offShoff) }
func (img *Image) shentsize() int { return int(img.u16(offShentsz)) }
func (img *Image) shnum() int     { return int(img.u16(offShnum)) }
func (img *Image) shstrndx() int  { return int(img.u16(offShstrndx)) }

// shdr returns the byte offset into img.data of section header idx.
func (img *Image) shdr(idx int) int {
	return int(img.shoff()) + idx*img.shentsize()
}

// section header field offsets, relative to the start of an Elf64_Shdr.
const (
	shName   = 0x00
	shType   = 0x04
	shOffset = 0x18
	shSize   = 0x20
	shEntsz  = 0x38
)

func (img *Image) sectionName(idx int) string {
	strSection := img.shdr(img.shstrndx())
	strOff := int(img.u64(strSection + shOffset))
	nameOff := int(img.u32(img.shdr(idx) + shName))
	return cString(img.data[strOff+nameOff:])
}

func (img *Image) dynstrAt(offset int) string {
	strSection := img.shdr(img.dynstr)
	strOff := int(img.u64(strSection + shOffset))
	return cString(img.data[strOff+offset:])
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// Parse walks the section headers, starting at index 1 (index 0 is
// reserved and must be SHT_NULL), recording the .dynstr, .dynsym, and
// .dynamic section indices.
func (img *Image) Parse() error {
	n := img.shnum()
	for i := 1; i < n; i++ {
		hdr := img.shdr(i)
		switch img.u32(hdr + shType) {
		case shtStrtab:
			if img.sectionName(i) == ".dynstr" {
				img.dynstr = i
			}
		case shtDynsym:
			img.dynsym = i
		case shtDynamic:
			img.dynamic = i
		}
	}
	if img.dynamic == -1 {
		return perrors.New(perrors.KindMissingSection, true, "Failed to find section .dynamic")
	}
	if img.dynstr == -1 {
		return perrors.New(perrors.KindMissingSection, true, "Failed to find section .dynstr")
	}
	if img.dynsym == -1 {
		return perrors.New(perrors.KindMissingSection, true, "Failed to find section .dynsym")
	}
	return nil
}

// NeededLibs returns the names of the DT_NEEDED entries of the .dynamic
// section, in the order they appear there. Only this image's direct
// dependencies are listed, as the names stored in .dynstr; they are not
// resolved to paths.
func (img *Image) NeededLibs() ([]string, error) {
	hdr := img.shdr(img.dynamic)
	base := int(img.u64(hdr + shOffset))
	size := int(img.u64(hdr + shSize))
	entsize := int(img.u64(hdr + shEntsz))
	if entsize == 0 {
		entsize = dynSize
	}

	var needed []string
	for off := 0; off+dynSize <= size; off += entsize {
		entry := base + off
		if img.i64(entry) == dtNeeded {
			val := int(img.u64(entry + 8))
			needed = append(needed, img.dynstrAt(val))
		}
	}
	return needed, nil
}

// GetThreadState returns the unrelocated value of the dynamic symbol
// named _PyThreadState_Current, or 0 if it is not exported by this
// image. The caller must add the image's runtime load base.
func (img *Image) GetThreadState() (uint64, error) {
	const threadStateSymbol = "_PyThreadState_Current"
	hdr := img.shdr(img.dynsym)
	base := int(img.u64(hdr + shOffset))
	size := int(img.u64(hdr + shSize))
	entsize := int(img.u64(hdr + shEntsz))
	if entsize == 0 {
		entsize = symSize
	}

	for off := 0; off+symSize <= size; off += entsize {
		entry := base + off
		nameOff := int(img.u32(entry))
		if img.dynstrAt(nameOff) == threadStateSymbol {
			return img.u64(entry + 8), nil
		}
	}
	return 0, nil
}

func (img *Image) String() string {
	return fmt.Sprintf("elfimage(%d bytes, dynamic=%d dynstr=%d dynsym=%d)",
		len(img.data), img.dynamic, img.dynstr, img.dynsym)
}
