package convert

import (
	"debug/dwarf"
	"testing"
)

func TestCUCacheInsertLineFileDedupsAndResolvesPath(t *testing.T) {
	in := newInterner()
	c := newCUCache(in)
	c.compDir = "/build"

	lf := &dwarf.LineFile{Name: "src/main.c"}

	idx1 := c.insertLineFile(lf)
	idx2 := c.insertLineFile(lf)
	if idx1 != idx2 {
		t.Fatalf("repeated insert of the same *dwarf.LineFile returned different indices: %d vs %d", idx1, idx2)
	}

	file := in.files[idx1]
	dir, ok := in.String(file.DirectoryIdx)
	if want := "src"; !ok || dir != want {
		t.Fatalf("directory = (%q, %v), want (%q, true)", dir, ok, want)
	}
	path, _ := in.String(file.PathNameIdx)
	if path != "main.c" {
		t.Fatalf("path name = %q, want %q", path, "main.c")
	}
	compDir, _ := in.String(file.CompDirIdx)
	if compDir != "/build" {
		t.Fatalf("comp dir = %q, want %q", compDir, "/build")
	}
}

func TestCUCacheInsertLineFileNilIsSentinel(t *testing.T) {
	in := newInterner()
	c := newCUCache(in)

	if idx := c.insertLineFile(nil); idx != Sentinel {
		t.Fatalf("insertLineFile(nil) = %d, want Sentinel", idx)
	}
}

func TestCUCacheInsertFileByLocalIndex(t *testing.T) {
	in := newInterner()
	c := newCUCache(in)

	lf := &dwarf.LineFile{Name: "a.c"}
	c.files = []*dwarf.LineFile{nil, lf}

	if idx := c.insertFile(0); idx != Sentinel {
		t.Fatalf("insertFile(0) (nil entry) = %d, want Sentinel", idx)
	}
	if idx := c.insertFile(5); idx != Sentinel {
		t.Fatalf("insertFile(5) (out of range) = %d, want Sentinel", idx)
	}

	idx := c.insertFile(1)
	path, _ := in.String(in.files[idx].PathNameIdx)
	if path != "a.c" {
		t.Fatalf("path name = %q, want %q", path, "a.c")
	}

	// A second lookup by local index must hit the fileCache, not recompute.
	if again := c.insertFile(1); again != idx {
		t.Fatalf("second insertFile(1) = %d, want cached %d", again, idx)
	}
}

func TestCUCacheClearEmptiesAllCaches(t *testing.T) {
	in := newInterner()
	c := newCUCache(in)

	c.fileCache[0] = 7
	c.lineFileCache[&dwarf.LineFile{}] = 8
	c.funcCache[dwarf.Offset(1)] = 9

	c.fileCache, c.lineFileCache, c.funcCache = clearedCopy(c)

	if len(c.fileCache) != 0 || len(c.lineFileCache) != 0 || len(c.funcCache) != 0 {
		t.Fatalf("caches not cleared: %v %v %v", c.fileCache, c.lineFileCache, c.funcCache)
	}
}

// clearedCopy exercises the same clear() calls reset uses, without
// needing a real dwarf.Data/CU entry to call reset itself.
func clearedCopy(c *cuCache) (map[int64]uint32, map[*dwarf.LineFile]uint32, map[dwarf.Offset]uint32) {
	clear(c.fileCache)
	clear(c.lineFileCache)
	clear(c.funcCache)
	return c.fileCache, c.lineFileCache, c.funcCache
}
