package convert

import (
	"debug/dwarf"
	"fmt"
	"sort"

	"github.com/shuoli84/symcache/internal/symlog"
)

// cuRangeMap is the CU-local PC -> SourceLocation map built by seeding from
// the line program (spec §4.4 step 1) and then mutated in place as
// subprogram and inlined-subroutine DIEs are matched against it, before
// being committed into the converter's global range map.
type cuRangeMap struct {
	addrs []uint64
	locs  []SourceLocation
}

func newCURangeMap() *cuRangeMap {
	return &cuRangeMap{}
}

func (m *cuRangeMap) reset() {
	m.addrs = m.addrs[:0]
	m.locs = m.locs[:0]
}

// seed records one line-program row. Rows are collected unsorted across
// every sequence in the CU; sortAndDedup puts the map in its final,
// queryable form once every sequence has been seeded.
func (m *cuRangeMap) seed(addr uint64, loc SourceLocation) {
	m.addrs = append(m.addrs, addr)
	m.locs = append(m.locs, loc)
}

// sortAndDedup sorts the accumulated entries by address and collapses
// repeated addresses (possible when two sequences both cover it) to the
// last-seeded location at that address, the same overwrite rule the
// line-program coalescer applies within a single sequence.
func (m *cuRangeMap) sortAndDedup() {
	order := make([]int, len(m.addrs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return m.addrs[order[i]] < m.addrs[order[j]] })

	addrs := make([]uint64, 0, len(order))
	locs := make([]SourceLocation, 0, len(order))
	for _, i := range order {
		if len(addrs) > 0 && addrs[len(addrs)-1] == m.addrs[i] {
			locs[len(locs)-1] = m.locs[i]
			continue
		}
		addrs = append(addrs, m.addrs[i])
		locs = append(locs, m.locs[i])
	}
	m.addrs, m.locs = addrs, locs
}

// span returns the half-open index range [lo, hi) of entries selected by
// the DIE range [begin, end): lo is the first entry at or after begin; hi
// is the first entry at or after end, i.e. "up to the next seeded key at
// or after end", per spec §4.4 step 4.
func (m *cuRangeMap) span(begin, end uint64) (lo, hi int) {
	lo = sort.Search(len(m.addrs), func(i int) bool { return m.addrs[i] >= begin })
	hi = sort.Search(len(m.addrs), func(i int) bool { return m.addrs[i] >= end })
	return lo, hi
}

// rangesOf resolves the PC ranges attached to e via filterRanges.
func rangesOf(dwrf *dwarf.Data, e *dwarf.Entry) ([][2]uint64, error) {
	raw, err := dwrf.Ranges(e)
	if err != nil {
		return nil, err
	}
	return filterRanges(raw), nil
}

// filterRanges drops the begin==0 and begin==end cases spec §4.4 step 4
// says contribute nothing, kept separate from rangesOf so it is testable
// without a real dwarf.Data/Entry.
func filterRanges(raw [][2]uint64) [][2]uint64 {
	out := raw[:0]
	for _, r := range raw {
		if r[0] == 0 || r[0] == r[1] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// assignSubprogram implements spec §4.4 step 5's non-inlined case: every
// entry e's ranges select gets e's own function_idx.
func assignSubprogram(cache *cuCache, m *cuRangeMap, e *dwarf.Entry, ranges [][2]uint64) error {
	fnIdx, err := cache.insertFunction(e.Offset)
	if err != nil {
		return fmt.Errorf("subprogram at %v: %w", e.Offset, err)
	}
	for _, rng := range ranges {
		lo, hi := m.span(rng[0], rng[1])
		for i := lo; i < hi; i++ {
			m.locs[i].FunctionIdx = fnIdx
		}
	}
	return nil
}

// assignInlined implements spec §4.4 steps 3 and 5's inlined case. Caller
// information (DW_AT_call_file, DW_AT_call_line, DW_AT_abstract_origin) is
// only honored when all three attributes are present; otherwise the entry
// is still treated as an inline: its callee function_idx is set to 0, and
// the caller location is built with file=0, line=0 rather than being
// skipped, matching the
// boundary behavior in spec §8.
//
// The caller location is cloned from the entry's current state and has only
// its file_idx/line overwritten; its inlined_into_idx is left as-is. For a
// PC covered by nested inlines, the DFS visits the outer inline first, so by
// the time the inner inline is processed the entry already carries the
// outer caller's index — preserving it here is what lets the chain resolve
// leaf-to-root through every level instead of truncating at the outermost.
func assignInlined(in *interner, cache *cuCache, m *cuRangeMap, e *dwarf.Entry, ranges [][2]uint64) error {
	callFile, hasCallFile := e.Val(dwarf.AttrCallFile).(int64)
	callLine, hasCallLine := e.Val(dwarf.AttrCallLine).(int64)
	origin, hasOrigin := e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)

	var callerFileIdx, callerLine, calleeFnIdx uint32
	if hasCallFile && hasCallLine && hasOrigin {
		callerFileIdx = cache.insertFile(callFile)
		callerLine = uint32(callLine)
		idx, err := cache.insertFunction(origin)
		if err != nil {
			return fmt.Errorf("inlined subroutine at %v: %w", e.Offset, err)
		}
		calleeFnIdx = idx
	}

	for _, rng := range ranges {
		lo, hi := m.span(rng[0], rng[1])
		for i := lo; i < hi; i++ {
			caller := m.locs[i]
			caller.FileIdx = callerFileIdx
			caller.Line = callerLine
			callerIdx := in.insertSourceLocation(caller)

			m.locs[i].InlinedIntoIdx = callerIdx
			m.locs[i].FunctionIdx = calleeFnIdx
		}
	}
	return nil
}

// walkCU processes one compilation unit: it seeds a CU-local range map
// from the line program, then drives r (already positioned just past cu)
// forward through cu's DIE subtree, assigning function identities and
// inline-caller chains to the selected entries of the map. It returns the
// finished map together with whichever DIE ended the subtree — either the
// next compile unit, or nil at end of data — so the caller can continue
// iterating CUs without re-reading the reader.
func walkCU(dwrf *dwarf.Data, in *interner, cache *cuCache, r *dwarf.Reader, cu *dwarf.Entry, sink ErrorSink, perm symlog.Permission) (*cuRangeMap, *dwarf.Entry, error) {
	if err := cache.reset(dwrf, cu); err != nil {
		return nil, nil, fmt.Errorf("resetting per-CU cache: %w", err)
	}

	lr, err := dwrf.LineReader(cu)
	if err != nil {
		return nil, nil, fmt.Errorf("line reader: %w", err)
	}
	sequences, err := readLineSequences(lr)
	if err != nil {
		return nil, nil, fmt.Errorf("line program: %w", err)
	}

	m := newCURangeMap()
	for _, seq := range sequences {
		for _, row := range seq.Rows {
			fileIdx := cache.insertLineFile(row.File)
			m.seed(row.Address, SourceLocation{
				FileIdx:        fileIdx,
				Line:           row.Line,
				FunctionIdx:    Sentinel,
				InlinedIntoIdx: Sentinel,
			})
		}
	}
	m.sortAndDedup()

	for {
		e, err := r.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("reading DIE: %w", err)
		}
		if e == nil || e.Tag == dwarf.TagCompileUnit {
			return m, e, nil
		}

		switch e.Tag {
		case dwarf.TagSubprogram:
			ranges, err := rangesOf(dwrf, e)
			if err != nil {
				err = fmt.Errorf("ranges for subprogram at %v: %w", e.Offset, err)
				symlog.Logf(perm, "dwarf", "%v", err)
				sink.Raise(err)
				continue
			}
			if err := assignSubprogram(cache, m, e, ranges); err != nil {
				symlog.Logf(perm, "dwarf", "%v", err)
				sink.Raise(err)
			}

		case dwarf.TagInlinedSubroutine:
			ranges, err := rangesOf(dwrf, e)
			if err != nil {
				err = fmt.Errorf("ranges for inlined subroutine at %v: %w", e.Offset, err)
				symlog.Logf(perm, "dwarf", "%v", err)
				sink.Raise(err)
				continue
			}
			if err := assignInlined(in, cache, m, e, ranges); err != nil {
				symlog.Logf(perm, "dwarf", "%v", err)
				sink.Raise(err)
			}
		}
	}
}
