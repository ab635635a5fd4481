// Package vm implements the call-dispatch and exception-unwinding core of
// an IR interpreter.
//
// This package contains:
//   - the interpreter value representation and the slice of the IR type
//     system that dispatch needs (arity, argument and return types)
//   - call target resolution and per-call-site polymorphic inline caches
//   - ABI marshaling to native words (WebAssembly modules hosted by wazero)
//     and to foreign Go values
//   - call and invoke nodes with normal and unwind successors
//   - Itanium-style and SEH-style exception records, landing pads and
//     catch switches, and the per-thread pending exception slot
package vm
