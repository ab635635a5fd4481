package vm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config holds the engine settings.
type Config struct {
	InlineCacheSize int
	ExceptionModel  ExceptionModel

	StackTop     uint64 // first thread's stack grows down from here
	StackSize    uint64
	MaxCallDepth int // 0 disables the check

	HandleBase  uint64 // start of the auto-dereference handle range
	HandleRange uint64

	ImageBase uint64 // SEH image base for throw info addresses
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		InlineCacheSize: DefaultInlineCacheSize,
		ExceptionModel:  ItaniumModel,
		StackTop:        0x7fff_f000_0000,
		StackSize:       1 << 20,
		MaxCallDepth:    10_000,
		HandleBase:      0x7f00_0000_0000,
		HandleRange:     DefaultHandleRange,
		ImageBase:       0x1_4000_0000,
	}
}

// Runtime ties the engine together: the tables the loader fills, the
// dispatcher, the exception model and the threads.
type Runtime struct {
	Symbols    *SymbolTable
	Handles    *HandleTable
	Natives    *NativeLibrary
	Interop    *InteropRegistry
	Types      *TypeInfoRegistry
	Intrinsics *IntrinsicRegistry

	// Memory is the heap collaborator used by SEH catch copies.
	Memory Memory

	config     Config
	itanium    *ItaniumOps
	seh        *SEHOps
	evaluator  *LandingPadEvaluator
	resolver   *Resolver
	dispatcher *Dispatcher
	profiler   *Profiler

	sitesMu       sync.Mutex
	sites         []*CallSite
	internalSites sync.Map // *Function -> *CallSite

	nextFunctionID atomic.Uint32

	threadsMu   sync.Mutex
	threads     map[uuid.UUID]*Thread
	threadCount atomic.Uint64
	group       *errgroup.Group
	groupCtx    context.Context
}

// NewRuntime creates a runtime with the given configuration.
func NewRuntime(cfg Config) *Runtime {
	if cfg.InlineCacheSize <= 0 {
		cfg.InlineCacheSize = DefaultInlineCacheSize
	}
	if cfg.StackSize == 0 {
		cfg.StackSize = DefaultConfig().StackSize
	}
	if cfg.StackTop == 0 {
		cfg.StackTop = DefaultConfig().StackTop
	}

	rt := &Runtime{
		Symbols:    NewSymbolTable(),
		Handles:    NewHandleTable(cfg.HandleBase, cfg.HandleRange),
		Natives:    NewNativeLibrary(),
		Interop:    NewInteropRegistry(),
		Types:      NewTypeInfoRegistry(),
		Intrinsics: NewIntrinsicRegistry(),
		config:     cfg,
		profiler:   NewProfiler(),
		threads:    make(map[uuid.UUID]*Thread),
	}
	rt.itanium = NewItaniumOps(rt.Types)
	rt.seh = NewSEHOps(rt.Types)

	var ops PlatformExceptionOps = rt.itanium
	if cfg.ExceptionModel == SEHModel {
		ops = rt.seh
	}
	rt.evaluator = NewLandingPadEvaluator(ops, rt.Types)
	rt.resolver = NewResolver(rt.Symbols, rt.Handles)
	rt.dispatcher = &Dispatcher{rt: rt}
	rt.group, rt.groupCtx = errgroup.WithContext(context.Background())

	log.Infof("runtime created: %s exceptions, inline cache size %d", cfg.ExceptionModel, cfg.InlineCacheSize)
	return rt
}

// Config returns the runtime configuration.
func (rt *Runtime) Config() Config { return rt.config }

// Evaluator returns the landing pad evaluator of the configured model.
func (rt *Runtime) Evaluator() *LandingPadEvaluator { return rt.evaluator }

// Itanium returns the Itanium exception operations.
func (rt *Runtime) Itanium() *ItaniumOps { return rt.itanium }

// SEH returns the SEH exception operations.
func (rt *Runtime) SEH() *SEHOps { return rt.seh }

// Resolver returns the call target resolver.
func (rt *Runtime) Resolver() *Resolver { return rt.resolver }

// Dispatcher returns the dispatch engine.
func (rt *Runtime) Dispatcher() *Dispatcher { return rt.dispatcher }

// Profiler returns the function profiler.
func (rt *Runtime) Profiler() *Profiler { return rt.profiler }

// ---------------------------------------------------------------------------
// Functions and call sites
// ---------------------------------------------------------------------------

// DefineFunction creates an interpreted function with an IR body. A
// nonzero symbol makes it reachable through that native address.
func (rt *Runtime) DefineFunction(name string, typ *FunctionType, body Body, symbol uint64) *Function {
	fn := &Function{
		ID:     FunctionID(rt.nextFunctionID.Add(1)),
		Name:   name,
		Type:   typ,
		Symbol: symbol,
		Body:   body,
	}
	rt.Symbols.Define(fn)
	return fn
}

// DeclareFunction creates a function without an IR body. If an intrinsic
// is registered under name, the function is bound to it.
func (rt *Runtime) DeclareFunction(name string, typ *FunctionType, symbol uint64) *Function {
	fn := rt.DefineFunction(name, typ, nil, symbol)
	if impl, ok := rt.Intrinsics.Lookup(name); ok {
		fn.Builtin = impl
	}
	return fn
}

// NewCallSite creates a call site of the given static type.
func (rt *Runtime) NewCallSite(name string, typ *FunctionType) *CallSite {
	site := newCallSite(name, typ, rt.config.InlineCacheSize)
	rt.sitesMu.Lock()
	rt.sites = append(rt.sites, site)
	rt.sitesMu.Unlock()
	return site
}

// Sites returns every call site created so far.
func (rt *Runtime) Sites() []*CallSite {
	rt.sitesMu.Lock()
	defer rt.sitesMu.Unlock()
	return append([]*CallSite(nil), rt.sites...)
}

// Call resolves callee at site and dispatches it with args. args includes
// the leading stack argument.
func (rt *Runtime) Call(t *Thread, site *CallSite, callee Value, args ...Value) (Value, error) {
	return rt.dispatcher.Call(t, site, callee, args)
}

// invoke calls fn on behalf of the runtime (destructors, copy
// constructors), supplying the stack argument.
func (rt *Runtime) invoke(t *Thread, fn *Function, args ...Value) (Value, error) {
	site, ok := rt.internalSites.Load(fn)
	if !ok {
		site, _ = rt.internalSites.LoadOrStore(fn, newCallSite("runtime "+fn.Name, fn.Type, rt.config.InlineCacheSize))
	}
	all := make([]Value, 0, len(args)+StackArgumentOffset)
	all = append(all, FromAddress(t.Stack.StackPointer()))
	all = append(all, args...)
	return rt.dispatcher.Dispatch(t, site.(*CallSite), InterpretedFunction{Fn: fn}, all)
}

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

// NewThread creates an interpreter thread with its own stack.
func (rt *Runtime) NewThread(ctx context.Context) *Thread {
	if ctx == nil {
		ctx = context.Background()
	}
	n := rt.threadCount.Add(1) - 1
	top := rt.config.StackTop - n*rt.config.StackSize
	t := &Thread{
		ID:    uuid.New(),
		Stack: NewLinearStack(top, rt.config.StackSize),
		rt:    rt,
		ctx:   ctx,
	}
	rt.threadsMu.Lock()
	rt.threads[t.ID] = t
	rt.threadsMu.Unlock()
	return t
}

// Threads returns the number of live threads.
func (rt *Runtime) Threads() int {
	rt.threadsMu.Lock()
	defer rt.threadsMu.Unlock()
	return len(rt.threads)
}

// Go runs fn on a new interpreter thread in its own goroutine. The
// thread's context is cancelled when any thread started by Go fails.
func (rt *Runtime) Go(fn func(t *Thread) error) {
	rt.threadsMu.Lock()
	group, ctx := rt.group, rt.groupCtx
	rt.threadsMu.Unlock()

	group.Go(func() error {
		return fn(rt.NewThread(ctx))
	})
}

// AwaitTermination waits for every thread started by Go, then destroys the
// exceptions still pending on any thread. It returns the first thread
// error joined with any cleanup error.
func (rt *Runtime) AwaitTermination() error {
	rt.threadsMu.Lock()
	group := rt.group
	rt.threadsMu.Unlock()

	runErr := group.Wait()

	rt.threadsMu.Lock()
	threads := make([]*Thread, 0, len(rt.threads))
	for _, t := range rt.threads {
		threads = append(threads, t)
	}
	rt.threads = make(map[uuid.UUID]*Thread)
	rt.group, rt.groupCtx = errgroup.WithContext(context.Background())
	rt.threadsMu.Unlock()

	var cleanupErrs []error
	for _, t := range threads {
		if n := t.PendingExceptions(); n > 0 {
			log.Debugf("thread %s: destroying %d pending exception(s)", t.ID, n)
		}
		if err := t.drain(); err != nil {
			cleanupErrs = append(cleanupErrs, err)
		}
		rt.Interop.forgetThread(t)
	}
	return errors.Join(append([]error{runErr}, cleanupErrs...)...)
}
