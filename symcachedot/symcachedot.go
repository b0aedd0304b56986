// Package symcachedot renders a converted model as a Graphviz dot graph,
// for developers debugging why two functions failed to dedup or why an
// inline chain looks wrong, the way the teacher project uses memviz to
// visualize a parsed command-line grammar in its own tests.
package symcachedot

import (
	"io"

	"github.com/bradleyjkemp/memviz"

	"github.com/shuoli84/symcache/convert"
)

// graphFunction and graphSourceLocation mirror convert.Function and
// convert.SourceLocation with their string-table indices resolved to
// plain strings, so the dot graph memviz produces is legible rather than
// a tree of bare u32 indices.
type graphFunction struct {
	Name string
}

type graphSourceLocation struct {
	File        string
	Line        uint32
	Function    string
	InlinedInto *graphSourceLocation
}

type graphModel struct {
	Functions []*graphFunction
	Locations []*graphSourceLocation
	NumRanges int
}

// Dump writes a Graphviz .dot rendering of m's interned function and
// source-location tables, and the size of its range map, to w.
func Dump(w io.Writer, m *convert.Model) {
	g := buildGraph(m)
	memviz.Map(w, &g)
}

func buildGraph(m *convert.Model) *graphModel {
	g := &graphModel{
		Functions: make([]*graphFunction, len(m.Functions)),
		Locations: make([]*graphSourceLocation, len(m.Locations)),
		NumRanges: len(m.RangeAddrs),
	}

	for i, fn := range m.Functions {
		name, _ := m.String(fn.NameIdx)
		g.Functions[i] = &graphFunction{Name: name}
	}

	for i, sl := range m.Locations {
		funcName := ""
		if sl.FunctionIdx != convert.Sentinel && int(sl.FunctionIdx) < len(m.Functions) {
			funcName, _ = m.String(m.Functions[sl.FunctionIdx].NameIdx)
		}
		g.Locations[i] = &graphSourceLocation{
			File:     filePath(m, sl.FileIdx),
			Line:     sl.Line,
			Function: funcName,
		}
	}

	for i, sl := range m.Locations {
		if sl.InlinedIntoIdx != convert.Sentinel && int(sl.InlinedIntoIdx) < len(g.Locations) {
			g.Locations[i].InlinedInto = g.Locations[sl.InlinedIntoIdx]
		}
	}

	return g
}

// filePath joins a File's directory and path-name strings, in the style
// of a conventional filesystem path, for display purposes only.
func filePath(m *convert.Model, fileIdx uint32) string {
	if fileIdx == convert.Sentinel || int(fileIdx) >= len(m.Files) {
		return ""
	}
	file := m.Files[fileIdx]

	name, _ := m.String(file.PathNameIdx)
	dir, ok := m.String(file.DirectoryIdx)
	if ok && dir != "" {
		return dir + "/" + name
	}
	return name
}
