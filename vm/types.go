package vm

import (
	"fmt"
	"strings"
)

// TypeKind identifies an IR type.
type TypeKind uint8

const (
	TypeVoid TypeKind = iota
	TypeI1
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeFloat
	TypeDouble
	TypePointer
	TypeStruct
	TypeArray
)

// Type is the part of the IR type system that dispatch needs.
type Type struct {
	Kind   TypeKind
	Fields []*Type // struct members
	Len    int     // array length
	Elem   *Type   // array element
}

// Predeclared scalar types.
var (
	Void   = &Type{Kind: TypeVoid}
	I1     = &Type{Kind: TypeI1}
	I8     = &Type{Kind: TypeI8}
	I16    = &Type{Kind: TypeI16}
	I32    = &Type{Kind: TypeI32}
	I64    = &Type{Kind: TypeI64}
	Float  = &Type{Kind: TypeFloat}
	Double = &Type{Kind: TypeDouble}
	Ptr    = &Type{Kind: TypePointer}
)

// StructOf returns a struct type with the given members.
func StructOf(fields ...*Type) *Type {
	return &Type{Kind: TypeStruct, Fields: fields}
}

// ArrayOf returns an array type of n elements.
func ArrayOf(n int, elem *Type) *Type {
	return &Type{Kind: TypeArray, Len: n, Elem: elem}
}

// IsInteger reports whether t is i1..i64.
func (t *Type) IsInteger() bool {
	return t.Kind >= TypeI1 && t.Kind <= TypeI64
}

// IsStructured reports whether t is an aggregate that cannot travel in a
// single scalar slot.
func (t *Type) IsStructured() bool {
	return t.Kind == TypeStruct || t.Kind == TypeArray
}

// Bits returns the integer width of t, 0 for non-integers.
func (t *Type) Bits() uint8 {
	switch t.Kind {
	case TypeI1:
		return 1
	case TypeI8:
		return 8
	case TypeI16:
		return 16
	case TypeI32:
		return 32
	case TypeI64:
		return 64
	}
	return 0
}

func (t *Type) String() string {
	if t == nil {
		return "<untyped>"
	}
	switch t.Kind {
	case TypeVoid:
		return "void"
	case TypeI1, TypeI8, TypeI16, TypeI32, TypeI64:
		return fmt.Sprintf("i%d", t.Bits())
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypePointer:
		return "ptr"
	case TypeStruct:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.String()
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	case TypeArray:
		return fmt.Sprintf("[%d x %s]", t.Len, t.Elem)
	}
	return fmt.Sprintf("TypeKind(%d)", uint8(t.Kind))
}

// StackArgumentOffset is the number of leading interpreter-internal
// arguments (the current stack frame) at every call. They are never
// marshaled across a native or foreign boundary.
const StackArgumentOffset = 1

// FunctionType is a function signature. Params[0] is the stack argument.
type FunctionType struct {
	Ret      *Type
	Params   []*Type
	Variadic bool
}

// Signature builds a function type whose leading stack parameter is
// prepended to params.
func Signature(ret *Type, params ...*Type) *FunctionType {
	all := make([]*Type, 0, len(params)+StackArgumentOffset)
	all = append(all, Ptr)
	all = append(all, params...)
	return &FunctionType{Ret: ret, Params: all}
}

// VariadicSignature is Signature with trailing variadic arguments.
func VariadicSignature(ret *Type, params ...*Type) *FunctionType {
	ft := Signature(ret, params...)
	ft.Variadic = true
	return ft
}

// Arity returns the number of declared parameters, stack argument included.
func (ft *FunctionType) Arity() int {
	return len(ft.Params)
}

// UserParams returns the declared parameters after the stack argument.
func (ft *FunctionType) UserParams() []*Type {
	if len(ft.Params) < StackArgumentOffset {
		return nil
	}
	return ft.Params[StackArgumentOffset:]
}

// ParamType returns the declared type of argument i, or nil for trailing
// variadic arguments.
func (ft *FunctionType) ParamType(i int) *Type {
	if i < len(ft.Params) {
		return ft.Params[i]
	}
	return nil
}

func (ft *FunctionType) String() string {
	parts := make([]string, 0, len(ft.Params)+1)
	for _, p := range ft.Params {
		parts = append(parts, p.String())
	}
	if ft.Variadic {
		parts = append(parts, "...")
	}
	return fmt.Sprintf("%s (%s)", ft.Ret, strings.Join(parts, ", "))
}
