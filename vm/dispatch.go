package vm

import (
	"fmt"
)

// Dispatcher performs calls through per-site inline caches.
type Dispatcher struct {
	rt *Runtime
}

// Call resolves callee at site and dispatches it.
func (d *Dispatcher) Call(t *Thread, site *CallSite, callee Value, args []Value) (Value, error) {
	target, err := d.rt.resolver.resolveAt(site, callee)
	if err != nil {
		return NoValue, err
	}
	return d.Dispatch(t, site, target, args)
}

// Dispatch invokes target with args. A cached invoker is used when the
// site has seen target before; otherwise one is derived and installed, or
// derived fresh on every call once the site has gone generic.
func (d *Dispatcher) Dispatch(t *Thread, site *CallSite, target CallTarget, args []Value) (Value, error) {
	leave, err := t.enter()
	if err != nil {
		return NoValue, err
	}
	defer leave()

	if inv := site.cache.Lookup(target); inv != nil {
		return inv(t, args)
	}
	if site.cache.Generic() {
		return d.generic(t, site, target, args)
	}

	inv, err := d.specialize(site, target)
	if err != nil {
		return NoValue, err
	}
	if cached, ok := site.cache.Install(target, inv); ok {
		inv = cached
	} else if site.cache.Generic() {
		log.Debugf("call site %s: more than %d targets, using generic dispatch", site.Name, site.cache.Limit())
	}
	return inv(t, args)
}

// generic derives the invoker for target without caching it.
func (d *Dispatcher) generic(t *Thread, site *CallSite, target CallTarget, args []Value) (Value, error) {
	inv, err := d.specialize(site, target)
	if err != nil {
		return NoValue, err
	}
	return inv(t, args)
}

// specialize derives the invoker for one resolved target.
func (d *Dispatcher) specialize(site *CallSite, target CallTarget) (Invoker, error) {
	site.specializations.Add(1)

	switch tg := target.(type) {
	case InterpretedFunction:
		return tg.Fn.directCall(), nil
	case NativePointer:
		b, err := d.bind(site, tg.Addr)
		if err != nil {
			return nil, err
		}
		return b.Call, nil
	case ForeignTarget:
		return d.foreignInvoker(site, tg.Object)
	case Unresolved:
		return nil, unresolvedError(tg.Raw)
	default:
		panic(fmt.Sprintf("vm: unknown call target %T", target))
	}
}

func unresolvedError(raw Value) error {
	switch raw.Kind() {
	case KindAddress:
		return &InvalidFunctionPointerError{Pointer: raw.Address()}
	case KindInt:
		return &InvalidFunctionPointerError{Pointer: raw.Uint()}
	case KindHandle:
		if raw.IsNull() {
			return &InvalidFunctionPointerError{Pointer: 0}
		}
	}
	return &TargetResolutionError{Value: raw, Reason: "operand is not callable"}
}

// bind returns the native binding for addr at site, performing the
// signature handshake at most once per (site, address).
func (d *Dispatcher) bind(site *CallSite, addr uint64) (*NativeBinding, error) {
	if addr == 0 {
		return nil, &InvalidFunctionPointerError{Pointer: addr}
	}
	if b, ok := site.bindings.Load(addr); ok {
		return b.(*NativeBinding), nil
	}

	site.bindMu.Lock()
	defer site.bindMu.Unlock()
	if b, ok := site.bindings.Load(addr); ok {
		return b.(*NativeBinding), nil
	}

	sym, ok := d.rt.Natives.Lookup(addr)
	if !ok {
		return nil, &InvalidFunctionPointerError{Pointer: addr}
	}
	b, err := bindNative(sym, site.Type, d.rt.Handles)
	if err != nil {
		if te, ok := err.(*TypeError); ok {
			te.Site = site.Name
		}
		return nil, err
	}
	d.rt.Natives.binds.Add(1)
	log.Debugf("call site %s: bound native %s", site.Name, sym)
	site.bindings.Store(addr, b)
	return b, nil
}

// foreignInvoker derives the invoker for a foreign object. A callable
// object is called through the foreign protocol with per-parameter
// converters chosen from the site's static type. A pointer-like object is
// re-resolved once as a native address.
func (d *Dispatcher) foreignInvoker(site *CallSite, obj *ForeignObject) (Invoker, error) {
	interop := d.rt.Interop

	if !obj.callable() {
		p, ok := obj.Value.(PointerLike)
		if !ok {
			return nil, &TargetResolutionError{
				Value:  FromForeign(obj),
				Reason: "foreign " + obj.TypeName() + " is neither callable nor a pointer",
			}
		}
		addr, ok := p.AsPointer()
		if !ok {
			return nil, &InvalidFunctionPointerError{Pointer: addr}
		}
		switch tg := d.rt.resolver.Resolve(FromAddress(addr)).(type) {
		case InterpretedFunction:
			return tg.Fn.directCall(), nil
		case NativePointer:
			b, err := d.bind(site, tg.Addr)
			if err != nil {
				return nil, err
			}
			return b.Call, nil
		default:
			return nil, &TargetResolutionError{
				Value:  FromAddress(addr),
				Reason: "foreign pointer does not name a function",
			}
		}
	}

	if meta := interop.metadata(obj); meta != nil && meta.Signature != nil {
		for i, p := range meta.Signature.Params {
			if p != nil && p.IsStructured() {
				return nil, &TypeError{Site: site.Name, Type: p,
					Reason: fmt.Sprintf("foreign %s declares structured parameter %d", meta.Name, i)}
			}
		}
		if r := meta.Signature.Ret; r != nil && r.IsStructured() {
			return nil, &TypeError{Site: site.Name, Type: r,
				Reason: fmt.Sprintf("foreign %s declares a structured return type", meta.Name)}
		}
	}

	ret := site.Type.Ret
	if ret != nil && ret.IsStructured() {
		return nil, &TypeError{Site: site.Name, Type: ret, Reason: "structured return from a foreign callee"}
	}
	params := site.Type.UserParams()
	convs := make([]foreignConverter, len(params))
	for i, p := range params {
		conv, err := interop.foreignConverterFor(p)
		if err != nil {
			if te, ok := err.(*TypeError); ok {
				te.Site = site.Name
			}
			return nil, err
		}
		convs[i] = conv
	}
	variadic := site.Type.Variadic

	return func(t *Thread, args []Value) (Value, error) {
		if len(args) < StackArgumentOffset {
			return NoValue, internalErrorf("foreign call without a stack argument")
		}
		user := args[StackArgumentOffset:]
		if len(user) < len(convs) || (!variadic && len(user) != len(convs)) {
			return NoValue, &TypeError{Site: site.Name,
				Reason: fmt.Sprintf("expected %d arguments, got %d", len(convs), len(user))}
		}

		goArgs := make([]any, len(user))
		for i, arg := range user {
			conv := interop.Escape
			if i < len(convs) {
				conv = convs[i]
			}
			v, err := conv(t, arg)
			if err != nil {
				return NoValue, err
			}
			goArgs[i] = v
		}

		res, err := callForeign(t, obj, goArgs)
		if err != nil {
			return NoValue, err
		}
		return interop.FromForeign(res, ret)
	}, nil
}
