package format

import (
	"fmt"
	"sort"
	"unicode/utf8"
	"unsafe"
)

// Reason classifies why Parse rejected a buffer, so callers can switch on
// failure class instead of matching error strings (spec §7's reader error
// kinds, shaped like jasonk000-go-perf/dwarfx's DecodeError).
type Reason int

const (
	ReasonMisaligned Reason = iota
	ReasonTooSmall
	ReasonBadMagic
	ReasonBadVersion
	ReasonBadLength
	ReasonBadIndex
	ReasonBadUTF8
)

func (r Reason) String() string {
	switch r {
	case ReasonMisaligned:
		return "misaligned"
	case ReasonTooSmall:
		return "too small"
	case ReasonBadMagic:
		return "bad magic"
	case ReasonBadVersion:
		return "bad version"
	case ReasonBadLength:
		return "bad length"
	case ReasonBadIndex:
		return "bad index"
	case ReasonBadUTF8:
		return "bad utf8"
	default:
		return "unknown"
	}
}

// FormatError is returned by Parse (and therefore OpenMmap) for any
// validation failure. The reader is strict: one FormatError fails the
// whole call, never a partially-usable Format.
type FormatError struct {
	Reason Reason
	Msg    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("symcache format: %s: %s", e.Reason, e.Msg)
}

func isAligned(buf []byte) bool {
	if len(buf) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&buf[0]))%align == 0
}

// stringRecord, fileRecord, functionRecord, and locationRecord mirror the
// on-disk record shapes of the same name described in spec §6.
type stringRecord struct {
	Offset uint32
	Length uint32
}

type fileRecord struct {
	CompDirIdx   uint32
	DirectoryIdx uint32
	PathNameIdx  uint32
}

type functionRecord struct {
	NameIdx uint32
}

type locationRecord struct {
	FileIdx        uint32
	Line           uint32
	FunctionIdx    uint32
	InlinedIntoIdx uint32
}

// Format is a parsed, read-only view over a serialized symcache buffer.
// Every accessor slices or decodes directly against the original buffer;
// Parse never copies record or string bytes. A Format is safe for
// concurrent use by multiple goroutines once constructed (spec §5).
type Format struct {
	buf []byte

	stringsSec  []byte
	filesSec    []byte
	funcsSec    []byte
	locsSec     []byte
	rangeAddrs  []byte
	rangeLocs   []byte
	stringBytes []byte

	numStrings         uint32
	numFiles           uint32
	numFunctions       uint32
	numSourceLocations uint32
	numRanges          uint32
}

// Parse validates buf as a symcache and returns a Format exposing
// zero-copy views over it. It implements the full validation sequence of
// spec §4.6: alignment, minimum length, magic (rejecting a byte-swapped
// buffer rather than transcoding it, per SPEC_FULL §9), version, section
// length arithmetic, and the num_source_locations >= num_ranges relation —
// plus a full structural pass over every index and string in the buffer,
// since the reader is strict and must fail the whole call rather than
// expose a Format that later panics on a bad reference.
func Parse(buf []byte) (*Format, error) {
	if !isAligned(buf) {
		return nil, &FormatError{Reason: ReasonMisaligned, Msg: "buffer base is not 8-byte aligned"}
	}
	if len(buf) < headerSize {
		return nil, &FormatError{Reason: ReasonTooSmall, Msg: fmt.Sprintf("buffer length %d is smaller than the %d-byte header", len(buf), headerSize)}
	}

	var magic [4]byte
	copy(magic[:], buf[0:4])
	switch magic {
	case magicBytes:
		// native, continue.
	case magicReversed:
		return nil, &FormatError{Reason: ReasonBadMagic, Msg: "byte-swapped magic: endianness mismatch is rejected, not transcoded"}
	default:
		return nil, &FormatError{Reason: ReasonBadMagic, Msg: fmt.Sprintf("unrecognized magic %x", magic)}
	}

	version := byteOrder.Uint32(buf[4:8])
	if version != Version {
		return nil, &FormatError{Reason: ReasonBadVersion, Msg: fmt.Sprintf("unsupported version %d (want %d)", version, Version)}
	}

	numStrings := byteOrder.Uint32(buf[8:12])
	numFiles := byteOrder.Uint32(buf[12:16])
	numFunctions := byteOrder.Uint32(buf[16:20])
	numLocations := byteOrder.Uint32(buf[20:24])
	numRanges := byteOrder.Uint32(buf[24:28])
	stringBytesLen := byteOrder.Uint32(buf[28:32])

	if numLocations < numRanges {
		return nil, &FormatError{Reason: ReasonBadLength, Msg: fmt.Sprintf("num_source_locations (%d) is less than num_ranges (%d)", numLocations, numRanges)}
	}

	// Sizes are computed in 64 bits so that huge header counts cannot wrap
	// around to a small total and slip past the length check below.
	secSize := func(count, size uint32) uint64 {
		n := uint64(count) * uint64(size)
		return (n + align - 1) / align * align
	}
	stringSec := secSize(numStrings, stringRecordSize)
	fileSec := secSize(numFiles, fileRecordSize)
	funcSec := secSize(numFunctions, functionRecordSize)
	locSec := secSize(numLocations, locationRecordSize)
	rangeAddrSec := secSize(numRanges, rangeFieldSize)
	rangeLocSec := secSize(numRanges, rangeFieldSize)
	stringBytesSec := secSize(stringBytesLen, 1)

	total := uint64(headerSize) + stringSec + fileSec + funcSec + locSec + rangeAddrSec + rangeLocSec + stringBytesSec
	if uint64(len(buf)) != total {
		return nil, &FormatError{Reason: ReasonBadLength, Msg: fmt.Sprintf("buffer length %d does not match computed section layout %d", len(buf), total)}
	}

	off := headerSize
	take := func(n uint64) []byte {
		s := buf[off : uint64(off)+n]
		off += int(n)
		return s
	}

	f := &Format{
		buf:                buf,
		numStrings:         numStrings,
		numFiles:           numFiles,
		numFunctions:       numFunctions,
		numSourceLocations: numLocations,
		numRanges:          numRanges,
	}
	f.stringsSec = take(stringSec)
	f.filesSec = take(fileSec)
	f.funcsSec = take(funcSec)
	f.locsSec = take(locSec)
	f.rangeAddrs = take(rangeAddrSec)
	f.rangeLocs = take(rangeLocSec)
	f.stringBytes = take(stringBytesSec)

	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// validate performs the structural pass beyond the header and length
// arithmetic already checked by Parse: every string record's window must
// lie in the blob and decode as valid UTF-8; every optional index must be
// either the sentinel or within the table it refers to; a source
// location's inlined_into_idx must additionally be strictly less than its
// own index (spec §3's acyclicity invariant); and the range address array
// must be strictly increasing, since Lookup assumes it.
func (f *Format) validate() error {
	for i := uint32(0); i < f.numStrings; i++ {
		r := f.rawString(i)
		if uint64(r.Offset)+uint64(r.Length) > uint64(len(f.stringBytes)) {
			return &FormatError{Reason: ReasonBadIndex, Msg: fmt.Sprintf("string %d: window [%d,%d) exceeds string-bytes length %d", i, r.Offset, r.Offset+r.Length, len(f.stringBytes))}
		}
		if !utf8.Valid(f.stringBytes[r.Offset : r.Offset+r.Length]) {
			return &FormatError{Reason: ReasonBadUTF8, Msg: fmt.Sprintf("string %d is not valid UTF-8", i)}
		}
	}

	checkStringIdx := func(what string, i int, idx uint32) error {
		if idx != sentinel && idx >= f.numStrings {
			return &FormatError{Reason: ReasonBadIndex, Msg: fmt.Sprintf("%s %d: string index %d out of range (%d strings)", what, i, idx, f.numStrings)}
		}
		return nil
	}

	for i := uint32(0); i < f.numFiles; i++ {
		r := f.rawFile(i)
		if err := checkStringIdx("file", int(i), r.CompDirIdx); err != nil {
			return err
		}
		if err := checkStringIdx("file", int(i), r.DirectoryIdx); err != nil {
			return err
		}
		if err := checkStringIdx("file", int(i), r.PathNameIdx); err != nil {
			return err
		}
	}

	for i := uint32(0); i < f.numFunctions; i++ {
		r := f.rawFunction(i)
		if err := checkStringIdx("function", int(i), r.NameIdx); err != nil {
			return err
		}
	}

	for i := uint32(0); i < f.numSourceLocations; i++ {
		r := f.rawLocation(i)
		if r.FileIdx != sentinel && r.FileIdx >= f.numFiles {
			return &FormatError{Reason: ReasonBadIndex, Msg: fmt.Sprintf("source location %d: file index %d out of range (%d files)", i, r.FileIdx, f.numFiles)}
		}
		if r.FunctionIdx != sentinel && r.FunctionIdx >= f.numFunctions {
			return &FormatError{Reason: ReasonBadIndex, Msg: fmt.Sprintf("source location %d: function index %d out of range (%d functions)", i, r.FunctionIdx, f.numFunctions)}
		}
		if r.InlinedIntoIdx != sentinel && r.InlinedIntoIdx >= i {
			return &FormatError{Reason: ReasonBadIndex, Msg: fmt.Sprintf("source location %d: inlined_into_idx %d is not strictly backward", i, r.InlinedIntoIdx)}
		}
	}

	var prev uint32
	for i := uint32(0); i < f.numRanges; i++ {
		addr := byteOrder.Uint32(f.rangeAddrs[i*rangeFieldSize : i*rangeFieldSize+4])
		if i > 0 && addr <= prev {
			return &FormatError{Reason: ReasonBadIndex, Msg: fmt.Sprintf("range %d: address %#x does not strictly increase over %#x", i, addr, prev)}
		}
		prev = addr

		loc := byteOrder.Uint32(f.rangeLocs[i*rangeFieldSize : i*rangeFieldSize+4])
		if loc >= f.numSourceLocations {
			return &FormatError{Reason: ReasonBadIndex, Msg: fmt.Sprintf("range %d: source location index %d out of range (%d locations)", i, loc, f.numSourceLocations)}
		}
	}

	return nil
}

func (f *Format) rawString(i uint32) stringRecord {
	p := i * stringRecordSize
	return stringRecord{
		Offset: byteOrder.Uint32(f.stringsSec[p : p+4]),
		Length: byteOrder.Uint32(f.stringsSec[p+4 : p+8]),
	}
}

func (f *Format) rawFile(i uint32) fileRecord {
	p := i * fileRecordSize
	return fileRecord{
		CompDirIdx:   byteOrder.Uint32(f.filesSec[p : p+4]),
		DirectoryIdx: byteOrder.Uint32(f.filesSec[p+4 : p+8]),
		PathNameIdx:  byteOrder.Uint32(f.filesSec[p+8 : p+12]),
	}
}

func (f *Format) rawFunction(i uint32) functionRecord {
	p := i * functionRecordSize
	return functionRecord{NameIdx: byteOrder.Uint32(f.funcsSec[p : p+4])}
}

func (f *Format) rawLocation(i uint32) locationRecord {
	p := i * locationRecordSize
	return locationRecord{
		FileIdx:        byteOrder.Uint32(f.locsSec[p : p+4]),
		Line:           byteOrder.Uint32(f.locsSec[p+4 : p+8]),
		FunctionIdx:    byteOrder.Uint32(f.locsSec[p+8 : p+12]),
		InlinedIntoIdx: byteOrder.Uint32(f.locsSec[p+12 : p+16]),
	}
}

// GetString resolves idx against the string table and blob. It returns
// false for the sentinel index or an out-of-range index; validate has
// already ruled out a bad window or invalid UTF-8 for any in-range index.
func (f *Format) GetString(idx uint32) (string, bool) {
	if idx == sentinel || idx >= f.numStrings {
		return "", false
	}
	r := f.rawString(idx)
	return string(f.stringBytes[r.Offset : r.Offset+r.Length]), true
}

// Frame is one level of a resolved call chain: a function name (empty if
// the function has no name), a source file path, and a line number.
type Frame struct {
	Function string
	File     string
	Line     uint32
}

// FrameChain is a resolved inline chain, innermost frame first.
type FrameChain []Frame

func (f *Format) frameAt(locIdx uint32) Frame {
	r := f.rawLocation(locIdx)
	file := ""
	if r.FileIdx != sentinel {
		fileRec := f.rawFile(r.FileIdx)
		file, _ = f.GetString(fileRec.PathNameIdx)
	}
	fn := ""
	if r.FunctionIdx != sentinel {
		funcRec := f.rawFunction(r.FunctionIdx)
		fn, _ = f.GetString(funcRec.NameIdx)
	}
	return Frame{Function: fn, File: file, Line: r.Line}
}

// Lookup binary-searches the range array for the greatest address <= pc
// and walks inlined_into_idx to produce the full inline chain from
// innermost to outermost (spec §4.6). It returns false if pc falls before
// the first range's address.
func (f *Format) Lookup(pc uint32) (FrameChain, bool) {
	n := int(f.numRanges)
	addrAt := func(i int) uint32 {
		return byteOrder.Uint32(f.rangeAddrs[uint32(i)*rangeFieldSize : uint32(i)*rangeFieldSize+4])
	}

	i := sort.Search(n, func(i int) bool { return addrAt(i) > pc }) - 1
	if i < 0 {
		return nil, false
	}

	locIdx := byteOrder.Uint32(f.rangeLocs[uint32(i)*rangeFieldSize : uint32(i)*rangeFieldSize+4])

	var chain FrameChain
	for {
		chain = append(chain, f.frameAt(locIdx))
		r := f.rawLocation(locIdx)
		if r.InlinedIntoIdx == sentinel {
			break
		}
		locIdx = r.InlinedIntoIdx
	}
	return chain, true
}
