package convert

import (
	"debug/dwarf"
	"fmt"
	"path"
)

// cuCache translates DWARF-local identifiers (line-program file indices,
// DIE offsets) to global interner indices while the converter walks one
// compilation unit. Its three maps are allocated once for the lifetime of a
// Converter and cleared, not reallocated, at each CU boundary (spec §4.2).
type cuCache struct {
	in *interner

	dwrf    *dwarf.Data
	files   []*dwarf.LineFile
	compDir string

	fileCache     map[int64]uint32
	lineFileCache map[*dwarf.LineFile]uint32
	funcCache     map[dwarf.Offset]uint32
}

func newCUCache(in *interner) *cuCache {
	return &cuCache{
		in:            in,
		fileCache:     make(map[int64]uint32),
		lineFileCache: make(map[*dwarf.LineFile]uint32),
		funcCache:     make(map[dwarf.Offset]uint32),
	}
}

// reset repositions the cache at the start of cu, clearing its contents
// (but not its underlying allocations) and recording the CU's line-program
// file table and compilation directory, both needed by insertFile.
func (c *cuCache) reset(dwrf *dwarf.Data, cu *dwarf.Entry) error {
	clear(c.fileCache)
	clear(c.lineFileCache)
	clear(c.funcCache)

	c.dwrf = dwrf
	c.files = nil
	c.compDir, _ = cu.Val(dwarf.AttrCompDir).(string)

	lr, err := dwrf.LineReader(cu)
	if err != nil {
		return fmt.Errorf("line reader for compile unit: %w", err)
	}
	if lr != nil {
		c.files = lr.Files()
	}
	return nil
}

// insertFile resolves a DWARF-local line-program file index, such as one
// carried by a DW_AT_decl_file or DW_AT_call_file attribute, to a global
// File index. A miss that the CU's line-program header has no entry for
// caches, and returns, the sentinel rather than an error.
func (c *cuCache) insertFile(localIdx int64) uint32 {
	if idx, ok := c.fileCache[localIdx]; ok {
		return idx
	}

	var lf *dwarf.LineFile
	if localIdx >= 0 && int(localIdx) < len(c.files) {
		lf = c.files[localIdx]
	}

	idx := c.insertLineFile(lf)
	c.fileCache[localIdx] = idx
	return idx
}

// insertLineFile resolves a *dwarf.LineFile straight from a line-program
// row (LineEntry.File, already resolved by the stdlib reader) to a global
// File index, deduplicating on pointer identity within the CU. A nil file
// returns the sentinel and is not cached.
func (c *cuCache) insertLineFile(lf *dwarf.LineFile) uint32 {
	if lf == nil {
		return Sentinel
	}
	if idx, ok := c.lineFileCache[lf]; ok {
		return idx
	}

	dir, base := path.Split(lf.Name)
	if len(dir) > 0 && dir[len(dir)-1] == '/' {
		dir = dir[:len(dir)-1]
	}

	compDirIdx := uint32(Sentinel)
	if c.compDir != "" {
		compDirIdx = c.in.insertStringValue(c.compDir)
	}
	dirIdx := uint32(Sentinel)
	if dir != "" {
		dirIdx = c.in.insertStringValue(dir)
	}
	pathIdx := c.in.insertStringValue(base)

	idx := c.in.insertFile(File{CompDirIdx: compDirIdx, DirectoryIdx: dirIdx, PathNameIdx: pathIdx})
	c.lineFileCache[lf] = idx
	return idx
}

// insertFunction resolves a subprogram or inlined-subroutine DIE offset to
// a global Function index. The function name prefers DW_AT_linkage_name
// over DW_AT_name; a DIE with neither interns with a sentinel name index,
// per the attribute-selection rule in spec §4.2.
func (c *cuCache) insertFunction(off dwarf.Offset) (uint32, error) {
	if idx, ok := c.funcCache[off]; ok {
		return idx, nil
	}

	r := c.dwrf.Reader()
	r.Seek(off)
	e, err := r.Next()
	if err != nil {
		return 0, fmt.Errorf("reading DIE at offset %v: %w", off, err)
	}
	if e == nil {
		return 0, fmt.Errorf("no DIE at offset %v", off)
	}

	nameIdx := uint32(Sentinel)
	if name, ok := e.Val(dwarf.AttrLinkageName).(string); ok && name != "" {
		nameIdx = c.in.insertStringValue(name)
	} else if name, ok := e.Val(dwarf.AttrName).(string); ok && name != "" {
		nameIdx = c.in.insertStringValue(name)
	}

	idx := c.in.insertFunction(Function{NameIdx: nameIdx})
	c.funcCache[off] = idx
	return idx, nil
}
