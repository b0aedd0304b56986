package format

import (
	"bytes"
	"testing"

	"github.com/shuoli84/symcache/convert"
)

func TestRoundtripEmptyModel(t *testing.T) {
	m := &convert.Model{}

	var buf bytes.Buffer
	if err := Serialize(m, &buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if buf.Len() != headerSize {
		t.Fatalf("empty model serialized to %d bytes, want exactly the %d-byte header", buf.Len(), headerSize)
	}

	f, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.numStrings != 0 || f.numFiles != 0 || f.numFunctions != 0 || f.numSourceLocations != 0 || f.numRanges != 0 {
		t.Fatalf("empty model parsed with non-zero counts: %+v", f)
	}
	if _, ok := f.Lookup(0); ok {
		t.Fatalf("Lookup on an empty format unexpectedly succeeded")
	}
}

func TestRoundtripPreservesCountsAndStrings(t *testing.T) {
	m := &convert.Model{
		StringBlob: []byte("main.cfoo"),
		Strings: []convert.StringRecord{
			{Offset: 0, Length: 6}, // "main.c"
			{Offset: 9, Length: 0}, // "" (zero-length string at the blob's end, still valid)
		},
		Files: []convert.File{
			{CompDirIdx: convert.Sentinel, DirectoryIdx: convert.Sentinel, PathNameIdx: 0},
		},
		Functions: []convert.Function{
			{NameIdx: convert.Sentinel}, // unnamed function, scenario 5
		},
		Locations: []convert.SourceLocation{
			{FileIdx: 0, Line: 10, FunctionIdx: 0, InlinedIntoIdx: convert.Sentinel},
		},
		RangeAddrs: []uint32{0x1000},
		RangeLocs:  []uint32{0},
	}

	var buf bytes.Buffer
	if err := Serialize(m, &buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if buf.Len()%align != 0 {
		t.Fatalf("serialized length %d is not 8-byte aligned", buf.Len())
	}

	f, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if f.numStrings != 2 || f.numFiles != 1 || f.numFunctions != 1 || f.numSourceLocations != 1 || f.numRanges != 1 {
		t.Fatalf("parsed counts = %+v, want 2,1,1,1,1", f)
	}

	if s, ok := f.GetString(0); !ok || s != "main.c" {
		t.Fatalf("GetString(0) = (%q, %v), want (\"main.c\", true)", s, ok)
	}
	if s, ok := f.GetString(1); !ok || s != "" {
		t.Fatalf("GetString(1) = (%q, %v), want (\"\", true)", s, ok)
	}
	if _, ok := f.GetString(convert.Sentinel); ok {
		t.Fatalf("GetString(Sentinel) unexpectedly succeeded")
	}

	chain, ok := f.Lookup(0x1000)
	if !ok {
		t.Fatalf("Lookup(0x1000) failed")
	}
	if len(chain) != 1 {
		t.Fatalf("chain length = %d, want 1 (no inlining)", len(chain))
	}
	if chain[0].File != "main.c" || chain[0].Line != 10 || chain[0].Function != "" {
		t.Fatalf("frame = %+v, want {Function:\"\" File:main.c Line:10}", chain[0])
	}

	chain, ok = f.Lookup(0x1001)
	if !ok || chain[0].Line != 10 {
		t.Fatalf("Lookup(0x1001) = %+v, %v, want the same range as 0x1000", chain, ok)
	}

	if _, ok := f.Lookup(0xFFF); ok {
		t.Fatalf("Lookup before the first range unexpectedly succeeded")
	}
}

func TestLookupResolvesFileThroughFileTableNotStringTable(t *testing.T) {
	// The file's PathNameIdx (2) deliberately differs from the file's own
	// index in the Files table (0) and from the location's FileIdx (0), so
	// that looking the file string up directly by FileIdx (instead of going
	// through the Files table's PathNameIdx) would return the wrong string.
	m := &convert.Model{
		StringBlob: []byte("WRONGalsoWRONGreal.c"),
		Strings: []convert.StringRecord{
			{Offset: 0, Length: 5},  // 0: "WRONG"
			{Offset: 5, Length: 9},  // 1: "alsoWRONG"
			{Offset: 14, Length: 6}, // 2: "real.c"
		},
		Files: []convert.File{
			{CompDirIdx: convert.Sentinel, DirectoryIdx: convert.Sentinel, PathNameIdx: 2},
		},
		Functions: []convert.Function{
			{NameIdx: convert.Sentinel},
		},
		Locations: []convert.SourceLocation{
			{FileIdx: 0, Line: 7, FunctionIdx: 0, InlinedIntoIdx: convert.Sentinel},
		},
		RangeAddrs: []uint32{0x3000},
		RangeLocs:  []uint32{0},
	}

	var buf bytes.Buffer
	if err := Serialize(m, &buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	f, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	chain, ok := f.Lookup(0x3000)
	if !ok {
		t.Fatalf("Lookup(0x3000) failed")
	}
	if chain[0].File != "real.c" {
		t.Fatalf("frame file = %q, want %q (resolved via the Files table's PathNameIdx, not GetString(FileIdx) directly)", chain[0].File, "real.c")
	}
}

func TestRoundtripInlineChain(t *testing.T) {
	// Mirrors scenario 3 of spec §8: an inlined call at the range's start,
	// with the outer (non-inlined) function applying for the rest of it.
	m := &convert.Model{
		StringBlob: []byte("main.couterinner"),
		Strings: []convert.StringRecord{
			{Offset: 0, Length: 6},  // "main.c"
			{Offset: 6, Length: 5},  // "outer"
			{Offset: 11, Length: 5}, // "inner"
		},
		Files: []convert.File{
			{CompDirIdx: convert.Sentinel, DirectoryIdx: convert.Sentinel, PathNameIdx: 0},
		},
		Functions: []convert.Function{
			{NameIdx: 1}, // outer
			{NameIdx: 2}, // inner
		},
		Locations: []convert.SourceLocation{
			{FileIdx: 0, Line: 100, FunctionIdx: 0, InlinedIntoIdx: convert.Sentinel}, // caller: outer @ line 100
			{FileIdx: 0, Line: 100, FunctionIdx: 1, InlinedIntoIdx: 0},               // callee: inner, inlined into 0
			{FileIdx: 0, Line: 101, FunctionIdx: 0, InlinedIntoIdx: convert.Sentinel},
		},
		RangeAddrs: []uint32{0x2000, 0x2008, 0x2010},
		RangeLocs:  []uint32{1, 0, 2},
	}

	var buf bytes.Buffer
	if err := Serialize(m, &buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	f, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	chain, ok := f.Lookup(0x2000)
	if !ok {
		t.Fatalf("Lookup(0x2000) failed")
	}
	if len(chain) != 2 {
		t.Fatalf("chain length = %d, want 2 (inner inlined into outer)", len(chain))
	}
	if chain[0].Function != "inner" || chain[0].Line != 100 {
		t.Fatalf("innermost frame = %+v, want Function=inner Line=100", chain[0])
	}
	if chain[1].Function != "outer" || chain[1].Line != 100 {
		t.Fatalf("outermost frame = %+v, want Function=outer Line=100", chain[1])
	}

	chain, ok = f.Lookup(0x2010)
	if !ok || len(chain) != 1 || chain[0].Function != "outer" || chain[0].Line != 101 {
		t.Fatalf("Lookup(0x2010) = %+v, %v, want a single outer@101 frame", chain, ok)
	}
}

func TestParseRejectsBufferSmallerThanHeader(t *testing.T) {
	buf := make([]byte, headerSize)
	copy(buf, magicBytes[:])
	byteOrder.PutUint32(buf[4:8], Version)

	if _, err := Parse(buf[:len(buf)-1]); err == nil {
		t.Fatalf("Parse accepted a buffer smaller than the header")
	} else if fe, ok := err.(*FormatError); !ok || fe.Reason != ReasonTooSmall {
		t.Fatalf("error = %v, want a FormatError with ReasonTooSmall", err)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	buf := make([]byte, headerSize)
	copy(buf, "XXXX")
	byteOrder.PutUint32(buf[4:8], Version)

	_, err := Parse(buf)
	fe, ok := err.(*FormatError)
	if !ok || fe.Reason != ReasonBadMagic {
		t.Fatalf("error = %v, want a FormatError with ReasonBadMagic", err)
	}
}

func TestParseRejectsReversedMagicAsMismatch(t *testing.T) {
	buf := make([]byte, headerSize)
	copy(buf, magicReversed[:])
	byteOrder.PutUint32(buf[4:8], Version)

	_, err := Parse(buf)
	fe, ok := err.(*FormatError)
	if !ok || fe.Reason != ReasonBadMagic {
		t.Fatalf("error = %v, want a FormatError with ReasonBadMagic (reject, not byte-swap)", err)
	}
}

func TestParseRejectsBadVersion(t *testing.T) {
	buf := make([]byte, headerSize)
	copy(buf, magicBytes[:])
	byteOrder.PutUint32(buf[4:8], Version+1)

	_, err := Parse(buf)
	fe, ok := err.(*FormatError)
	if !ok || fe.Reason != ReasonBadVersion {
		t.Fatalf("error = %v, want a FormatError with ReasonBadVersion", err)
	}
}

func TestParseRejectsMoreRangesThanSourceLocations(t *testing.T) {
	buf := make([]byte, headerSize)
	copy(buf, magicBytes[:])
	byteOrder.PutUint32(buf[4:8], Version)
	byteOrder.PutUint32(buf[20:24], 0) // num_source_locations
	byteOrder.PutUint32(buf[24:28], 1) // num_ranges

	_, err := Parse(buf)
	fe, ok := err.(*FormatError)
	if !ok || fe.Reason != ReasonBadLength {
		t.Fatalf("error = %v, want a FormatError with ReasonBadLength", err)
	}
}

func TestParseRejectsOutOfRangeStringIndex(t *testing.T) {
	m := &convert.Model{
		Files: []convert.File{
			{CompDirIdx: convert.Sentinel, DirectoryIdx: convert.Sentinel, PathNameIdx: 99},
		},
	}
	var buf bytes.Buffer
	if err := Serialize(m, &buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	_, err := Parse(buf.Bytes())
	fe, ok := err.(*FormatError)
	if !ok || fe.Reason != ReasonBadIndex {
		t.Fatalf("error = %v, want a FormatError with ReasonBadIndex", err)
	}
}

func TestParseRejectsUnsortedRanges(t *testing.T) {
	m := &convert.Model{
		Locations: []convert.SourceLocation{
			{FileIdx: convert.Sentinel, FunctionIdx: convert.Sentinel, InlinedIntoIdx: convert.Sentinel},
			{FileIdx: convert.Sentinel, Line: 1, FunctionIdx: convert.Sentinel, InlinedIntoIdx: convert.Sentinel},
		},
		RangeAddrs: []uint32{0x2000, 0x1000},
		RangeLocs:  []uint32{0, 0},
	}
	var buf bytes.Buffer
	if err := Serialize(m, &buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	_, err := Parse(buf.Bytes())
	fe, ok := err.(*FormatError)
	if !ok || fe.Reason != ReasonBadIndex {
		t.Fatalf("error = %v, want a FormatError with ReasonBadIndex (unsorted ranges)", err)
	}
}
