// Package format implements the flat, mmap-friendly binary symcache
// layout described in spec §6: a fixed header, a run of 8-byte-aligned,
// fixed-width record arrays, and a trailing string-bytes blob. Serialize
// builds one from a convert.Model; Format parses one back with zero-copy
// slice views over the original buffer.
package format

import "encoding/binary"

// Version is the only format version this package produces or accepts.
const Version uint32 = 1000

// align is the byte alignment every section boundary is padded to.
const align = 8

// headerSize is the fixed, 8-byte-aligned size of the header, including
// reserved space beyond the fields currently defined.
const headerSize = 64

// Per-record sizes on disk, in bytes.
const (
	stringRecordSize   = 8  // u32 offset, u32 length
	fileRecordSize     = 12 // u32 comp_dir_idx, u32 directory_idx, u32 path_name_idx
	functionRecordSize = 4  // u32 name_idx
	locationRecordSize = 16 // u32 file_idx, u32 line, u32 function_idx, u32 inlined_into_idx
	rangeFieldSize     = 4  // one u32, either an address or a source-location index
)

// sentinel is the on-disk absent-index marker, u32::MAX.
const sentinel uint32 = 0xFFFFFFFF

var magicBytes = [4]byte{'S', 'Y', 'M', 'C'}
var magicReversed = [4]byte{'C', 'M', 'Y', 'S'}

// byteOrder is the fixed wire encoding for every multi-byte field after
// the raw magic bytes: little-endian, regardless of the producing host's
// native order, per spec §6.
var byteOrder = binary.LittleEndian

// header mirrors the fixed fields of the 64-byte header (spec §6). The
// remaining bytes up to headerSize are reserved and always zero.
type header struct {
	Magic              [4]byte
	Version            uint32
	NumStrings         uint32
	NumFiles           uint32
	NumFunctions       uint32
	NumSourceLocations uint32
	NumRanges          uint32
	StringBytesLen     uint32
}

// alignUp rounds n up to the next multiple of align.
func alignUp(n uint32) uint32 {
	if rem := n % align; rem != 0 {
		n += align - rem
	}
	return n
}
