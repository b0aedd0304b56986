package convert

import (
	"debug/dwarf"
	"io"
	"sort"
)

// lineRow is one coalesced row of a line-program sequence: the file and
// line that apply starting at Address, until the next row's Address or the
// end of the sequence.
type lineRow struct {
	Address uint64
	File    *dwarf.LineFile
	Line    uint32
}

// lineSequence is a maximal run of line-program rows between a sequence's
// first row and its end-sequence marker (spec §4.3). A CU's line program
// may contain several sequences, one per contiguous block of generated
// code; they are not necessarily encountered in address order.
type lineSequence struct {
	Start uint64
	End   uint64
	Rows  []lineRow
}

// rawLineRow is one row exactly as drained from a dwarf.LineReader,
// before sequencing and coalescing.
type rawLineRow struct {
	Address     uint64
	File        *dwarf.LineFile
	Line        uint32
	EndSequence bool
}

// drainLineReader runs lr to completion and returns every row it emits,
// untouched. lr may be nil, for a CU with no line program, in which case
// it returns no rows.
func drainLineReader(lr *dwarf.LineReader) ([]rawLineRow, error) {
	if lr == nil {
		return nil, nil
	}

	var rows []rawLineRow
	var entry dwarf.LineEntry
	for {
		if err := lr.Next(&entry); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		rows = append(rows, rawLineRow{
			Address:     entry.Address,
			File:        entry.File,
			Line:        uint32(entry.Line),
			EndSequence: entry.EndSequence,
		})
	}
	return rows, nil
}

// coalesceLineRows implements spec §4.3's sequencing and coalescing
// algorithm over a flat drain of line-program rows. It is kept
// independent of dwarf.LineReader so the algorithm is testable against
// hand-built rows rather than a real line program.
func coalesceLineRows(raw []rawLineRow) []lineSequence {
	var sequences []lineSequence
	var rows []lineRow

	for _, r := range raw {
		if r.EndSequence {
			// A sequence whose first row's address is 0 is treated as
			// invalid (relocated away) and dropped entirely.
			if len(rows) > 0 && rows[0].Address != 0 {
				sequences = append(sequences, lineSequence{
					Start: rows[0].Address,
					End:   r.Address,
					Rows:  rows,
				})
			}
			rows = nil
			continue
		}

		row := lineRow{Address: r.Address, File: r.File, Line: r.Line}

		switch {
		case len(rows) > 0 && rows[len(rows)-1].Address == row.Address:
			rows[len(rows)-1] = row
		case len(rows) > 0 && rows[len(rows)-1].File == row.File && rows[len(rows)-1].Line == row.Line:
			// Same state as the previous row; no new information at this
			// address, so drop it rather than grow the range map.
		default:
			rows = append(rows, row)
		}
	}

	sort.Slice(sequences, func(i, j int) bool { return sequences[i].Start < sequences[j].Start })
	return sequences
}

// readLineSequences drains lr and returns its coalesced sequences, sorted
// by start address.
func readLineSequences(lr *dwarf.LineReader) ([]lineSequence, error) {
	raw, err := drainLineReader(lr)
	if err != nil {
		return nil, err
	}
	return coalesceLineRows(raw), nil
}
