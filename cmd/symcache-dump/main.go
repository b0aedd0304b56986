// Command symcache-dump builds a symcache from an ELF binary's DWARF
// debug info, or queries an already-built one, exercising the convert,
// format, and symcachedot packages end to end.
package main

import (
	"debug/elf"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/shuoli84/symcache/convert"
	"github.com/shuoli84/symcache/format"
	"github.com/shuoli84/symcache/internal/symlog"
	"github.com/shuoli84/symcache/symcachedot"
)

// nilWriter discards everything written to it, used to suppress the
// flag package's own usage output so this command can print its own.
type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

// logSink is the ErrorSink passed to convert.Converter.ProcessDWARF: it
// counts errors and prints each to stderr, continuing past every one, in
// keeping with the converter's permissive per-CU error policy.
type logSink struct {
	count int
}

func (s *logSink) Raise(err error) {
	s.count++
	fmt.Fprintf(os.Stderr, "symcache-dump: %v\n", err)
}

func main() {
	flgs := flag.NewFlagSet("symcache-dump", flag.ContinueOnError)
	flgs.SetOutput(&nilWriter{})

	var (
		elfPath = flgs.String("elf", "", "path to an ELF binary to read DWARF from")
		outPath = flgs.String("out", "", "path to write the serialized symcache to")
		dotPath = flgs.String("dot", "", "optional path to write a Graphviz dot dump of the converted model to")
		inPath  = flgs.String("in", "", "path to an existing symcache to query instead of building one")
		pc      = flgs.Uint64("pc", 0, "address to look up in -in (ignored when building with -elf)")
	)

	if err := flgs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flgs.Usage()
			printUsage()
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "symcache-dump: %v\n", err)
		os.Exit(1)
	}

	var err error
	switch {
	case *inPath != "":
		err = lookup(*inPath, uint32(*pc))
	case *elfPath != "":
		err = build(*elfPath, *outPath, *dotPath)
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "symcache-dump: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("usage:")
	fmt.Println("  symcache-dump -elf <path> -out <path> [-dot <path>]")
	fmt.Println("  symcache-dump -in <path> -pc <address>")
}

func build(elfPath, outPath, dotPath string) error {
	if outPath == "" {
		return fmt.Errorf("-out is required with -elf")
	}

	f, err := elf.Open(elfPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", elfPath, err)
	}
	defer f.Close()

	dwrf, err := f.DWARF()
	if err != nil {
		return fmt.Errorf("reading DWARF from %s: %w", elfPath, err)
	}

	symlog.Logf(symlog.Allow, "symcache-dump", "converting %s", elfPath)

	c := convert.NewConverter()
	sink := &logSink{}
	if err := c.ProcessDWARF(dwrf, sink); err != nil {
		return fmt.Errorf("converting %s: %w", elfPath, err)
	}
	if sink.count > 0 {
		symlog.Logf(symlog.Allow, "symcache-dump", "%d recoverable error(s) during conversion", sink.count)
	}

	model := c.Model()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer out.Close()

	if err := format.Serialize(model, out); err != nil {
		return fmt.Errorf("serializing to %s: %w", outPath, err)
	}

	if dotPath != "" {
		dot, err := os.Create(dotPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", dotPath, err)
		}
		defer dot.Close()
		symcachedot.Dump(dot, model)
	}

	fmt.Printf("wrote %d ranges, %d functions, %d source locations to %s\n",
		len(model.RangeAddrs), len(model.Functions), len(model.Locations), outPath)
	return nil
}

func lookup(inPath string, pc uint32) error {
	f, closeFn, err := format.OpenMmap(inPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", inPath, err)
	}
	defer closeFn()

	chain, ok := f.Lookup(pc)
	if !ok {
		fmt.Printf("%#08x: no match\n", pc)
		return nil
	}

	for i, frame := range chain {
		indent := ""
		for j := 0; j < i; j++ {
			indent += "  "
		}
		fmt.Printf("%s%s (%s:%d)\n", indent, frame.Function, frame.File, frame.Line)
	}
	return nil
}
