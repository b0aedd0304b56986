// Package usym parses the IL2CPP "usym" flat-file format: a small, fixed
// file format mapping native instruction addresses to managed source
// locations, independent of DWARF and of the symcache format in the
// format package. It exists only as a secondary, experimental lookup —
// it does not share a reader, writer, or in-memory model with the core
// converter/format packages.
package usym

import (
	"encoding/binary"
	"fmt"
	"sort"
)

const magicValue = "usym"
const wantVersion = 2

// headerSize is the size of the fixed header: magic, version,
// record_count, id, name, os, arch, each a u32.
const headerSize = 4 * 7

// recordSize is the size of one fixed-width record: address (u64),
// symbol, file, line (u32 each), and two u64 fields of unknown purpose
// carried from the original format but otherwise unused here.
const recordSize = 8 + 4 + 4 + 4 + 8 + 8

var byteOrder = binary.LittleEndian

// Header is the fixed fields at the start of a usym file.
type Header struct {
	Version     uint32
	RecordCount uint32
	ID          uint32
	NameOffset  uint32
	OSOffset    uint32
	ArchOffset  uint32
}

// Table is a parsed, read-only view over a usym buffer: its header plus
// zero-copy slice views over the record array and the string table.
type Table struct {
	Header Header

	records     []byte
	stringTable []byte
}

// Parse validates buf as a usym file and returns a Table exposing
// zero-copy views over its record array and string table.
func Parse(buf []byte) (*Table, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("usym: buffer length %d smaller than header size %d", len(buf), headerSize)
	}
	if string(buf[0:4]) != magicValue {
		return nil, fmt.Errorf("usym: bad magic %q", buf[0:4])
	}

	h := Header{
		Version:     byteOrder.Uint32(buf[4:8]),
		RecordCount: byteOrder.Uint32(buf[8:12]),
		ID:          byteOrder.Uint32(buf[12:16]),
		NameOffset:  byteOrder.Uint32(buf[16:20]),
		OSOffset:    byteOrder.Uint32(buf[20:24]),
		ArchOffset:  byteOrder.Uint32(buf[24:28]),
	}
	if h.Version != wantVersion {
		return nil, fmt.Errorf("usym: unsupported version %d (want %d)", h.Version, wantVersion)
	}

	recordsEnd := uint64(headerSize) + uint64(h.RecordCount)*uint64(recordSize)
	if uint64(len(buf)) < recordsEnd {
		return nil, fmt.Errorf("usym: buffer length %d smaller than %d records require (%d bytes)", len(buf), h.RecordCount, recordsEnd)
	}

	return &Table{
		Header:      h,
		records:     buf[headerSize:recordsEnd],
		stringTable: buf[recordsEnd:],
	}, nil
}

func (t *Table) recordAt(i uint32) (address uint64, symbolOff, fileOff, line uint32) {
	p := uint64(i) * recordSize
	address = byteOrder.Uint64(t.records[p : p+8])
	symbolOff = byteOrder.Uint32(t.records[p+8 : p+12])
	fileOff = byteOrder.Uint32(t.records[p+12 : p+16])
	line = byteOrder.Uint32(t.records[p+16 : p+20])
	return
}

// String reads the length-prefixed string at offset in the string table:
// a u16 little-endian length, followed by that many bytes of content.
func (t *Table) String(offset uint32) (string, bool) {
	if uint64(offset)+2 > uint64(len(t.stringTable)) {
		return "", false
	}
	size := uint64(byteOrder.Uint16(t.stringTable[offset : offset+2]))
	start := uint64(offset) + 2
	end := start + size
	if end > uint64(len(t.stringTable)) {
		return "", false
	}
	return string(t.stringTable[start:end]), true
}

// Frame is one resolved usym record: a managed symbol name, source file,
// and line number.
type Frame struct {
	Symbol string
	File   string
	Line   uint32
}

func (t *Table) frameAt(i uint32) Frame {
	_, symbolOff, fileOff, line := t.recordAt(i)
	symbol, _ := t.String(symbolOff)
	file, _ := t.String(fileOff)
	return Frame{Symbol: symbol, File: file, Line: line}
}

// Lookup returns the record for the greatest address <= addr, the same
// binary-search hit/index-1-miss rule as the original lookup_source_record.
// It returns false if addr falls before the first record's address.
func (t *Table) Lookup(addr uint64) (Frame, bool) {
	n := int(t.Header.RecordCount)
	i := sort.Search(n, func(i int) bool {
		a, _, _, _ := t.recordAt(uint32(i))
		return a > addr
	}) - 1
	if i < 0 {
		return Frame{}, false
	}
	return t.frameAt(uint32(i)), true
}
