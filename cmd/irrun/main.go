// irrun - loads an irdispatch program's native modules and calls its entry
// point through the dispatch engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/irdispatch/manifest"
	"github.com/chazu/irdispatch/vm"
	"github.com/chazu/irdispatch/vm/snapshot"
)

func main() {
	dir := flag.String("C", ".", "Directory to search for irdispatch.toml")
	entry := flag.String("entry", "", "Entry point as module.export (overrides [program] entry)")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	repeat := flag.Int("repeat", 1, "Number of times to call the entry point")
	statsOut := flag.String("stats", "", "Write a CBOR statistics snapshot to this file")
	record := flag.String("record", "", "Append the statistics snapshot to this SQLite history database")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: irrun [options] [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Calls a native entry point through the dispatch engine.\n")
		fmt.Fprintf(os.Stderr, "Arguments are parsed according to the export's parameter types.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  irrun 2 40                      # Call [program] entry with two arguments\n")
		fmt.Fprintf(os.Stderr, "  irrun -entry mathlib.mul 6 7    # Call a specific export\n")
		fmt.Fprintf(os.Stderr, "  irrun -repeat 1000 -stats s.cbor 1 2\n")
		fmt.Fprintf(os.Stderr, "  irrun -record runs.db 1 2         # Keep a history of runs\n")
	}
	flag.Parse()

	opts := options{
		dir:       *dir,
		entry:     *entry,
		verbosity: *verbosity,
		repeat:    *repeat,
		statsOut:  *statsOut,
		record:    *record,
	}
	if err := run(opts, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	dir       string
	entry     string
	verbosity int
	repeat    int
	statsOut  string
	record    string
}

func run(opts options, args []string) error {
	dir, entry, verbosity := opts.dir, opts.entry, opts.verbosity
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no %s found in %s or its parents", manifest.FileName, dir)
	}

	if verbosity < 0 {
		verbosity = m.Log.Verbosity
	}
	var logPath *string
	if m.Log.Path != "" {
		logPath = &m.Log.Path
	}
	commonlog.Configure(verbosity, logPath)

	cfg, err := m.EngineConfig()
	if err != nil {
		return err
	}
	rt := vm.NewRuntime(cfg)

	ctx := context.Background()
	wasm := wazero.NewRuntime(ctx)
	defer wasm.Close(ctx)

	if err := loadNatives(ctx, wasm, rt, m); err != nil {
		return err
	}

	if entry == "" {
		entry = m.Program.Entry
	}
	if entry == "" {
		return fmt.Errorf("no entry point: set [program] entry or pass -entry")
	}
	addr, ok := rt.Natives.AddressOf(entry)
	if !ok {
		return fmt.Errorf("entry point %s is not a loaded native export", entry)
	}
	sym, _ := rt.Natives.Lookup(addr)
	sig, err := signatureOf(sym.Module.ExportedFunctionDefinitions()[sym.Name])
	if err != nil {
		return fmt.Errorf("entry point %s: %w", entry, err)
	}
	callArgs, err := parseArgs(sig, args)
	if err != nil {
		return fmt.Errorf("entry point %s: %w", entry, err)
	}

	site := rt.NewCallSite("irrun "+entry, sig)
	rt.Go(func(t *vm.Thread) error {
		var res vm.Value
		for i := 0; i < opts.repeat; i++ {
			full := append([]vm.Value{vm.FromAddress(t.Stack.StackPointer())}, callArgs...)
			v, err := rt.Call(t, site, vm.FromAddress(addr), full...)
			if err != nil {
				return err
			}
			res = v
		}
		if !res.IsNone() {
			fmt.Println(res)
		}
		return nil
	})
	if err := rt.AwaitTermination(); err != nil {
		return err
	}

	return writeStats(ctx, opts, snapshot.FromStats(m.Program.Name, rt.Stats(), time.Now()))
}

// writeStats writes the snapshot file and appends to the history database
// when requested.
func writeStats(ctx context.Context, opts options, snap *snapshot.Snapshot) error {
	if opts.statsOut != "" {
		data, err := snapshot.Marshal(snap)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.statsOut, data, 0644); err != nil {
			return fmt.Errorf("cannot write %s: %w", opts.statsOut, err)
		}
	}
	if opts.record != "" {
		store, err := snapshot.OpenStore(opts.record)
		if err != nil {
			return err
		}
		defer store.Close()
		id, err := store.Save(ctx, snap)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "recorded snapshot %d in %s\n", id, opts.record)
	}
	return nil
}

// loadNatives instantiates every [[native]] module and places its exports
// in the runtime's native library. The first module with a linear memory
// becomes the runtime's heap.
func loadNatives(ctx context.Context, wasm wazero.Runtime, rt *vm.Runtime, m *manifest.Manifest) error {
	for _, n := range m.Native {
		path := m.NativePath(n)
		bin, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("native %s: %w", n.Name, err)
		}
		mod, err := wasm.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName(n.Name))
		if err != nil {
			return fmt.Errorf("native %s: %w", n.Name, err)
		}
		count, err := rt.Natives.Load(mod, n.Base)
		if err != nil {
			return fmt.Errorf("native %s: %w", n.Name, err)
		}
		if rt.Memory == nil && mod.Memory() != nil {
			rt.Memory = vm.WasmMemory{Mem: mod.Memory()}
		}
		fmt.Fprintf(os.Stderr, "loaded %s: %d symbols at 0x%x\n", n.Name, count, n.Base)
	}
	return nil
}

// signatureOf derives the call signature of a native export.
func signatureOf(def api.FunctionDefinition) (*vm.FunctionType, error) {
	params := make([]*vm.Type, len(def.ParamTypes()))
	for i, vt := range def.ParamTypes() {
		ty, err := typeOf(vt)
		if err != nil {
			return nil, err
		}
		params[i] = ty
	}
	ret := vm.Void
	switch results := def.ResultTypes(); len(results) {
	case 0:
	case 1:
		ty, err := typeOf(results[0])
		if err != nil {
			return nil, err
		}
		ret = ty
	default:
		return nil, fmt.Errorf("%d results are not supported", len(results))
	}
	return vm.Signature(ret, params...), nil
}

func typeOf(vt api.ValueType) (*vm.Type, error) {
	switch vt {
	case api.ValueTypeI32:
		return vm.I32, nil
	case api.ValueTypeI64:
		return vm.I64, nil
	case api.ValueTypeF32:
		return vm.Float, nil
	case api.ValueTypeF64:
		return vm.Double, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", api.ValueTypeName(vt))
}

func parseArgs(sig *vm.FunctionType, args []string) ([]vm.Value, error) {
	params := sig.UserParams()
	if len(args) != len(params) {
		return nil, fmt.Errorf("expects %d arguments, got %d", len(params), len(args))
	}
	vals := make([]vm.Value, len(args))
	for i, arg := range args {
		arg = strings.TrimSpace(arg)
		switch params[i].Kind {
		case vm.TypeI32:
			n, err := strconv.ParseInt(arg, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i+1, err)
			}
			vals[i] = vm.FromI32(int32(n))
		case vm.TypeI64:
			n, err := strconv.ParseInt(arg, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i+1, err)
			}
			vals[i] = vm.FromI64(n)
		case vm.TypeFloat:
			f, err := strconv.ParseFloat(arg, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i+1, err)
			}
			vals[i] = vm.FromFloat32(float32(f))
		case vm.TypeDouble:
			f, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i+1, err)
			}
			vals[i] = vm.FromFloat64(f)
		}
	}
	return vals, nil
}
