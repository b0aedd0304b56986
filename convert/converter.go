package convert

import (
	"debug/dwarf"
	"fmt"
	"io"
	"sort"

	"github.com/shuoli84/symcache/internal/symlog"
)

// ErrorSink receives per-CU conversion errors. Conversion continues after
// every call: the CU being processed when the error occurred is abandoned,
// but later compilation units still run.
type ErrorSink interface {
	Raise(error)
}

// Option configures a Converter at construction, the same functional-
// options idiom the teacher's command-line flag set is built up with,
// adapted here to a plain constructor.
type Option func(*Converter)

// WithLogPermission overrides the symlog.Permission consulted before the
// converter logs a recoverable per-CU condition to the package's central
// ring-buffer logger. The default, symlog.Allow, never suppresses it.
func WithLogPermission(perm symlog.Permission) Option {
	return func(c *Converter) { c.logPerm = perm }
}

// Converter accumulates a Model across one or more calls to ProcessDWARF.
// The zero value is not usable; construct with NewConverter.
type Converter struct {
	in    *interner
	cache *cuCache

	ranges     map[uint64]uint32
	collisions int

	logPerm symlog.Permission
}

// NewConverter returns a Converter with empty interner tables and an empty
// range map, ready to process one or more dwarf.Data containers.
func NewConverter(opts ...Option) *Converter {
	in := newInterner()
	c := &Converter{
		in:      in,
		cache:   newCUCache(in),
		ranges:  make(map[uint64]uint32),
		logPerm: symlog.Allow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// findNextCU scans r forward for the next DW_TAG_compile_unit entry,
// returning nil once the data is exhausted.
func findNextCU(r *dwarf.Reader) (*dwarf.Entry, error) {
	for {
		e, err := r.Next()
		if err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, err
		}
		if e == nil {
			return nil, nil
		}
		if e.Tag == dwarf.TagCompileUnit {
			return e, nil
		}
	}
}

// ProcessDWARF walks every compilation unit in dwrf, extending the
// converter's accumulated Model. A failure processing one CU is raised to
// sink and does not stop the remaining CUs from being processed (spec
// §7's permissive converter policy); a failure to even locate the next CU
// in the data is fatal to the call and returned directly.
func (c *Converter) ProcessDWARF(dwrf *dwarf.Data, sink ErrorSink) error {
	r := dwrf.Reader()

	cu, err := findNextCU(r)
	if err != nil {
		return fmt.Errorf("scanning for compile units: %w", err)
	}

	for cu != nil {
		m, next, err := walkCU(dwrf, c.in, c.cache, r, cu, sink, c.logPerm)
		if err != nil {
			err = fmt.Errorf("compile unit at %v: %w", cu.Offset, err)
			symlog.Logf(c.logPerm, "dwarf", "%v", err)
			sink.Raise(err)

			next, err = findNextCU(r)
			if err != nil {
				return fmt.Errorf("resyncing after compile unit error: %w", err)
			}
			cu = next
			continue
		}

		c.commit(m)
		cu = next
	}

	if c.collisions > 0 {
		sink.Raise(fmt.Errorf("%d cross-compile-unit PC collision(s): first insertion kept, per prefer-first policy", c.collisions))
	}
	return nil
}

// commit merges m's CU-local entries into the converter's global range
// map. A PC already present from an earlier compile unit keeps its
// existing assignment; the later one is dropped and counted toward the
// collision total reported at the end of ProcessDWARF (spec §4.4 step 6,
// resolved prefer-first per SPEC_FULL §4).
func (c *Converter) commit(m *cuRangeMap) {
	for i, addr := range m.addrs {
		if _, ok := c.ranges[addr]; ok {
			c.collisions++
			continue
		}
		c.ranges[addr] = c.in.insertSourceLocation(m.locs[i])
	}
}

// Model returns the converter's accumulated state as a Model, flattening
// the PC range map into the two parallel, address-sorted arrays the
// format package serializes (spec §4.5). It may be called repeatedly,
// including between ProcessDWARF calls; the returned Model is a fresh
// snapshot each time and does not alias the converter's own state.
func (c *Converter) Model() *Model {
	addrs := make([]uint64, 0, len(c.ranges))
	for addr := range c.ranges {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	rangeAddrs := make([]uint32, len(addrs))
	rangeLocs := make([]uint32, len(addrs))
	for i, addr := range addrs {
		rangeAddrs[i] = uint32(addr)
		rangeLocs[i] = c.ranges[addr]
	}

	return &Model{
		StringBlob: append([]byte(nil), c.in.blob...),
		Strings:    append([]StringRecord(nil), c.in.strings...),
		Files:      append([]File(nil), c.in.files...),
		Functions:  append([]Function(nil), c.in.functions...),
		Locations:  append([]SourceLocation(nil), c.in.locations...),
		RangeAddrs: rangeAddrs,
		RangeLocs:  rangeLocs,
	}
}
