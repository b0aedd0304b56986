// Package convert turns a parsed DWARF container into a normalized,
// PC-indexed model ready for serialization by the format package. It walks
// compilation units, the line program, and the DIE tree; resolves inlined
// call chains to caller source locations; and deduplicates files,
// functions, and source locations into global, insertion-ordered tables.
package convert

// Sentinel denotes "absent" for any optional index field: a string, file,
// function, or inlined-into reference. The same value is used on disk.
const Sentinel = ^uint32(0)

// File identifies a compiled source file by the string-table indices of its
// compilation directory, its (possibly relative) directory, and its path
// name. Two files are the same File if, and only if, all three indices
// match; CompDirIdx and DirectoryIdx may be Sentinel.
type File struct {
	CompDirIdx   uint32
	DirectoryIdx uint32
	PathNameIdx  uint32
}

// Function identifies a subprogram by the string-table index of its name.
// NameIdx is Sentinel for a function with no name (no DW_AT_linkage_name
// and no DW_AT_name).
type Function struct {
	NameIdx uint32
}

// SourceLocation is one frame of a (possibly inlined) stack position: the
// file and line it belongs to, the function it was attributed to, and,
// when that function was inlined at this PC, the source location of the
// call site one level up. InlinedIntoIdx is Sentinel for a non-inlined
// frame, and when present is always strictly less than this location's own
// eventual index (inline chains are acyclic by insertion order).
type SourceLocation struct {
	FileIdx        uint32
	Line           uint32
	FunctionIdx    uint32
	InlinedIntoIdx uint32
}

// Model is the frozen result of a conversion: the four interned tables plus
// the PC range map, in a form ready to hand to format.Serialize. It is
// built up by a Converter and never mutated afterwards.
type Model struct {
	StringBlob []byte
	Strings    []StringRecord
	Files      []File
	Functions  []Function
	Locations  []SourceLocation

	// RangeAddrs and RangeLocs are parallel and of equal length:
	// RangeAddrs is strictly increasing, and RangeLocs[i] is the source
	// location index that applies from RangeAddrs[i] up to (but not
	// including) RangeAddrs[i+1], or to the end of the owning sequence for
	// the last entry.
	RangeAddrs []uint32
	RangeLocs  []uint32
}

// StringRecord is the (offset, length) window of one interned string
// within Model.StringBlob.
type StringRecord struct {
	Offset uint32
	Length uint32
}

// String resolves idx against the model's string table and blob. It
// returns false for the sentinel index or an out-of-range index.
func (m *Model) String(idx uint32) (string, bool) {
	if idx == Sentinel || int(idx) >= len(m.Strings) {
		return "", false
	}
	r := m.Strings[idx]
	return string(m.StringBlob[r.Offset : r.Offset+r.Length]), true
}
