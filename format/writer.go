package format

import (
	"fmt"
	"io"

	"github.com/shuoli84/symcache/convert"
)

// Serialize lays out m as a single aligned buffer and writes it to w: the
// header, then the String, File, Function, SourceLocation, and Range
// section arrays (each padded to align), then the raw string-bytes blob
// (spec §4.5, §6). It performs no validation of m beyond what is needed to
// compute section sizes; a Model built by convert.Converter already
// satisfies the format's invariants by construction.
func Serialize(m *convert.Model, w io.Writer) error {
	if len(m.RangeAddrs) != len(m.RangeLocs) {
		return fmt.Errorf("format: range addr/loc arrays have different lengths (%d vs %d)", len(m.RangeAddrs), len(m.RangeLocs))
	}

	stringSec := alignUp(uint32(len(m.Strings)) * stringRecordSize)
	fileSec := alignUp(uint32(len(m.Files)) * fileRecordSize)
	funcSec := alignUp(uint32(len(m.Functions)) * functionRecordSize)
	locSec := alignUp(uint32(len(m.Locations)) * locationRecordSize)
	rangeAddrSec := alignUp(uint32(len(m.RangeAddrs)) * rangeFieldSize)
	rangeLocSec := alignUp(uint32(len(m.RangeLocs)) * rangeFieldSize)
	stringBytesSec := alignUp(uint32(len(m.StringBlob)))

	total := headerSize + stringSec + fileSec + funcSec + locSec + rangeAddrSec + rangeLocSec + stringBytesSec
	buf := make([]byte, total)

	copy(buf[0:4], magicBytes[:])
	byteOrder.PutUint32(buf[4:8], Version)
	byteOrder.PutUint32(buf[8:12], uint32(len(m.Strings)))
	byteOrder.PutUint32(buf[12:16], uint32(len(m.Files)))
	byteOrder.PutUint32(buf[16:20], uint32(len(m.Functions)))
	byteOrder.PutUint32(buf[20:24], uint32(len(m.Locations)))
	byteOrder.PutUint32(buf[24:28], uint32(len(m.RangeAddrs)))
	byteOrder.PutUint32(buf[28:32], uint32(len(m.StringBlob)))

	off := uint32(headerSize)

	for i, s := range m.Strings {
		p := off + uint32(i)*stringRecordSize
		byteOrder.PutUint32(buf[p:p+4], s.Offset)
		byteOrder.PutUint32(buf[p+4:p+8], s.Length)
	}
	off += stringSec

	for i, f := range m.Files {
		p := off + uint32(i)*fileRecordSize
		byteOrder.PutUint32(buf[p:p+4], f.CompDirIdx)
		byteOrder.PutUint32(buf[p+4:p+8], f.DirectoryIdx)
		byteOrder.PutUint32(buf[p+8:p+12], f.PathNameIdx)
	}
	off += fileSec

	for i, fn := range m.Functions {
		p := off + uint32(i)*functionRecordSize
		byteOrder.PutUint32(buf[p:p+4], fn.NameIdx)
	}
	off += funcSec

	for i, sl := range m.Locations {
		p := off + uint32(i)*locationRecordSize
		byteOrder.PutUint32(buf[p:p+4], sl.FileIdx)
		byteOrder.PutUint32(buf[p+4:p+8], sl.Line)
		byteOrder.PutUint32(buf[p+8:p+12], sl.FunctionIdx)
		byteOrder.PutUint32(buf[p+12:p+16], sl.InlinedIntoIdx)
	}
	off += locSec

	for i, addr := range m.RangeAddrs {
		p := off + uint32(i)*rangeFieldSize
		byteOrder.PutUint32(buf[p:p+4], addr)
	}
	off += rangeAddrSec

	for i, idx := range m.RangeLocs {
		p := off + uint32(i)*rangeFieldSize
		byteOrder.PutUint32(buf[p:p+4], idx)
	}
	off += rangeLocSec

	copy(buf[off:off+uint32(len(m.StringBlob))], m.StringBlob)

	_, err := w.Write(buf)
	return err
}
