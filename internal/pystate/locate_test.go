// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pystate

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Standard ELF64 layout constants, independent of package elfimage's
// internals, used only to build minimal real on-disk fixtures.
const (
	testEhdrSize = 64
	testShdrSize = 64
	testDynSize  = 16
	testSymSize  = 24

	testOffShoff    = 0x28
	testOffShentsz  = 0x3A
	testOffShnum    = 0x3C
	testOffShstrndx = 0x3E

	testShName   = 0x00
	testShType   = 0x04
	testShOffset = 0x18
	testShSize   = 0x20
	testShEntsz  = 0x38

	testSHTStrtab  = 3
	testSHTDynsym  = 11
	testSHTDynamic = 6
	testDTNeeded   = 1
)

type testSection struct {
	name    string
	typ     uint32
	content []byte
}

func writeTestELF(t *testing.T, dir, filename string, sections []testSection) string {
	t.Helper()
	le := binary.LittleEndian

	var shstrtab strings.Builder
	shstrtab.WriteByte(0)
	nameOffsets := make([]int, len(sections)+1)
	nameOffsets[0] = shstrtab.Len()
	shstrtab.WriteString(".shstrtab")
	shstrtab.WriteByte(0)
	for i, s := range sections {
		nameOffsets[i+1] = shstrtab.Len()
		shstrtab.WriteString(s.name)
		shstrtab.WriteByte(0)
	}

	all := append([]testSection{{name: ".shstrtab", typ: testSHTStrtab, content: []byte(shstrtab.String())}}, sections...)
	numSections := 1 + len(all)

	headerTableOff := testEhdrSize
	dataOff := headerTableOff + numSections*testShdrSize

	offsets := make([]int, len(all))
	sizes := make([]int, len(all))
	cur := dataOff
	for i, s := range all {
		offsets[i] = cur
		sizes[i] = len(s.content)
		cur += len(s.content)
	}

	buf := make([]byte, cur)
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64

	le.PutUint64(buf[testOffShoff:], uint64(headerTableOff))
	le.PutUint16(buf[testOffShentsz:], testShdrSize)
	le.PutUint16(buf[testOffShnum:], uint16(numSections))
	le.PutUint16(buf[testOffShstrndx:], 1)

	for i, s := range all {
		idx := i + 1
		hdr := headerTableOff + idx*testShdrSize
		le.PutUint32(buf[hdr+testShName:], uint32(nameOffsets[i]))
		le.PutUint32(buf[hdr+testShType:], s.typ)
		le.PutUint64(buf[hdr+testShOffset:], uint64(offsets[i]))
		le.PutUint64(buf[hdr+testShSize:], uint64(sizes[i]))
		var entsize uint64
		switch s.typ {
		case testSHTDynamic:
			entsize = testDynSize
		case testSHTDynsym:
			entsize = testSymSize
		}
		le.PutUint64(buf[hdr+testShEntsz:], entsize)
		copy(buf[offsets[i]:], s.content)
	}

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
	return path
}

func buildStrtab(strs []string) ([]byte, map[string]uint32) {
	var b strings.Builder
	b.WriteByte(0)
	offs := map[string]uint32{}
	for _, s := range strs {
		offs[s] = uint32(b.Len())
		b.WriteString(s)
		b.WriteByte(0)
	}
	return []byte(b.String()), offs
}

func TestResolveInFindsExportedSymbol(t *testing.T) {
	dir := t.TempDir()
	dynstr, offs := buildStrtab([]string{threadStateSymbol})

	sym := make([]byte, testSymSize)
	binary.LittleEndian.PutUint32(sym[0:], offs[threadStateSymbol])
	binary.LittleEndian.PutUint64(sym[8:], 0x1234)
	dynsym := append(make([]byte, testSymSize), sym...)

	path := writeTestELF(t, dir, "libpython3.10.so.1.0", []testSection{
		{name: ".dynstr", typ: testSHTStrtab, content: dynstr},
		{name: ".dynsym", typ: testSHTDynsym, content: dynsym},
		{name: ".dynamic", typ: testSHTDynamic, content: nil},
	})

	addr, ok, err := resolveIn(path, 0x10000)
	if err != nil {
		t.Fatalf("resolveIn: %v", err)
	}
	if !ok {
		t.Fatal("resolveIn did not find the symbol")
	}
	if addr != 0x1234+0x10000 {
		t.Errorf("resolveIn address = %#x, want %#x", addr, 0x1234+0x10000)
	}
}

func TestResolveInMissingSymbolReturnsNotOK(t *testing.T) {
	dir := t.TempDir()
	dynstr, _ := buildStrtab([]string{"some_other_symbol"})
	dynsym := make([]byte, testSymSize)

	path := writeTestELF(t, dir, "libfoo.so", []testSection{
		{name: ".dynstr", typ: testSHTStrtab, content: dynstr},
		{name: ".dynsym", typ: testSHTDynsym, content: dynsym},
		{name: ".dynamic", typ: testSHTDynamic, content: nil},
	})

	_, ok, err := resolveIn(path, 0)
	if err != nil {
		t.Fatalf("resolveIn: %v", err)
	}
	if ok {
		t.Fatal("resolveIn reported success for an image without the symbol")
	}
}

func TestNeededLibsOrderPreserved(t *testing.T) {
	dir := t.TempDir()
	dynstr, offs := buildStrtab([]string{"liba.so", "libb.so"})

	var dyn []byte
	appendDyn := func(tag int64, val uint32) {
		e := make([]byte, testDynSize)
		binary.LittleEndian.PutUint64(e[0:], uint64(tag))
		binary.LittleEndian.PutUint64(e[8:], uint64(val))
		dyn = append(dyn, e...)
	}
	appendDyn(testDTNeeded, offs["liba.so"])
	appendDyn(testDTNeeded, offs["libb.so"])

	path := writeTestELF(t, dir, "libmain.so", []testSection{
		{name: ".dynstr", typ: testSHTStrtab, content: dynstr},
		{name: ".dynsym", typ: testSHTDynsym, content: make([]byte, testSymSize)},
		{name: ".dynamic", typ: testSHTDynamic, content: dyn},
	})

	libs, err := neededLibs(path)
	if err != nil {
		t.Fatalf("neededLibs: %v", err)
	}
	want := []string{"liba.so", "libb.so"}
	if len(libs) != len(want) || libs[0] != want[0] || libs[1] != want[1] {
		t.Errorf("neededLibs = %v, want %v", libs, want)
	}
}
