// Cinder CLI - the main entry point for running cinder programs
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"

	"github.com/cinder-lang/cinder/internal/cache"
	"github.com/cinder-lang/cinder/internal/config"
	"github.com/cinder-lang/cinder/pkg/bytecode"

	_ "github.com/tliron/commonlog/simple"
)

const (
	exitOK           = 0
	exitUsage        = 64
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (higher is chattier)")
	trace := flag.Bool("trace", false, "Trace every instruction as it executes")
	disasm := flag.Bool("disasm", false, "Disassemble the compiled script and exit")
	dump := flag.String("dump", "", "Write a snapshot of the compiled script to this file")
	useCache := flag.Bool("cache", false, "Force-enable the compiled-script cache")
	configPath := flag.String("config", "", "Directory containing cinder.toml (discovered by default)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cinder [options] [script]\n\n")
		fmt.Fprintf(os.Stderr, "With no script, starts an interactive session.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cinder                   # Start the REPL\n")
		fmt.Fprintf(os.Stderr, "  cinder main.cin          # Run a script\n")
		fmt.Fprintf(os.Stderr, "  cinder -disasm main.cin  # Show its bytecode instead\n")
		fmt.Fprintf(os.Stderr, "  cinder -cache main.cin   # Reuse compiled bytecode across runs\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	switch flag.NArg() {
	case 0:
		os.Exit(repl(*trace))
	case 1:
		os.Exit(runFile(flag.Arg(0), *trace, *disasm, *dump, *useCache, *configPath))
	default:
		flag.Usage()
		os.Exit(exitUsage)
	}
}

// newVM builds a heap and VM from the loaded configuration.
func newVM(cfg config.Config, trace bool) *bytecode.VM {
	heap := bytecode.NewHeap()
	heap.Stress = cfg.GC.Stress
	heap.LogStats = cfg.GC.LogStats
	if cfg.GC.InitialThreshold > 0 {
		heap.SetNextGC(cfg.GC.InitialThreshold)
	}

	vm := bytecode.NewVM(heap)
	vm.Trace = trace || cfg.Trace.Execution
	return vm
}

func repl(trace bool) int {
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		cfg = config.Default()
	}
	vm := newVM(cfg, trace)

	interactive := isatty.IsTerminal(os.Stdin.Fd())
	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			if interactive {
				fmt.Println()
			}
			return exitOK
		}

		// Compile diagnostics are ours to report; the VM writes runtime
		// diagnostics to its error sink itself. Neither ends the session.
		if err := vm.Interpret(scanner.Text()); err != nil {
			var ce *bytecode.CompileError
			if errors.As(err, &ce) {
				for _, d := range ce.Diagnostics {
					fmt.Fprintln(os.Stderr, d)
				}
			}
		}
	}
}

func runFile(path string, trace, disasm bool, dump string, forceCache bool, configDir string) int {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not open file %q: %v\n", path, err)
		return exitIOError
	}

	var cfg config.Config
	if configDir != "" {
		cfg, err = config.Load(configDir)
	} else {
		cfg, err = config.FindAndLoad(filepath.Dir(path))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		cfg = config.Default()
	}

	vm := newVM(cfg, trace)

	var store *cache.Store
	if forceCache || cfg.Cache.Enabled {
		store, err = cache.Open(cachePath(cfg, path))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else {
			defer store.Close()
		}
	}

	script, cached := bytecode.NilHandle, false
	if store != nil {
		script, cached = store.Load(vm.Heap(), source)
	}
	if !cached {
		script, err = bytecode.Compile(vm.Heap(), string(source))
		if err != nil {
			var ce *bytecode.CompileError
			if errors.As(err, &ce) {
				for _, d := range ce.Diagnostics {
					fmt.Fprintln(os.Stderr, d)
				}
			}
			return exitCompileError
		}
		if store != nil {
			if err := store.Store(vm.Heap(), source, script); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
	}

	if dump != "" {
		blob, err := bytecode.EncodeFunction(vm.Heap(), script)
		if err == nil {
			err = os.WriteFile(dump, blob, 0o644)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not write snapshot %q: %v\n", dump, err)
			return exitIOError
		}
	}

	if disasm || cfg.Trace.Disassemble {
		dumpFunctions(vm.Heap(), script, "script")
		if disasm {
			return exitOK
		}
	}

	if err := vm.RunFunction(script); err != nil {
		return exitRuntimeError
	}
	return exitOK
}

// cachePath picks the cache database location: the configured path
// (relative to the config file), or a dotfile next to the script.
func cachePath(cfg config.Config, script string) string {
	if cfg.Cache.Path != "" {
		if filepath.IsAbs(cfg.Cache.Path) || cfg.Dir == "" {
			return cfg.Cache.Path
		}
		return filepath.Join(cfg.Dir, cfg.Cache.Path)
	}
	return filepath.Join(filepath.Dir(script), ".cinder-cache.db")
}

// dumpFunctions disassembles a function and, recursively, every function
// in its constant pool.
func dumpFunctions(heap *bytecode.Heap, fn bytecode.Handle, name string) {
	f := heap.Function(fn)
	bytecode.DisassembleChunk(os.Stdout, heap, f.Chunk, name)

	for _, c := range f.Chunk.Constants {
		if !c.IsObject() {
			continue
		}
		if nested, ok := heap.Get(c.Obj).(*bytecode.FunctionObject); ok {
			nestedName := "<anonymous>"
			if nested.Name != bytecode.NilHandle {
				nestedName = heap.StringValue(nested.Name)
			}
			dumpFunctions(heap, c.Obj, nestedName)
		}
	}
}
