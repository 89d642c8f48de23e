package interptest

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/nanshuiyu/pytools/interp"
)

// The value model is deliberately small: enough shapes to exercise every
// path the debugger takes through the interp contract.

// Int is an integer value.
type Int struct{ N int }

func (v *Int) Repr() (string, error)         { return strconv.Itoa(v.N), nil }
func (v *Int) Hex() (string, error)          { return fmt.Sprintf("0x%x", v.N), nil }
func (v *Int) TypeName() string              { return "int" }
func (v *Int) Len() (int, bool)              { return 0, false }
func (v *Int) Leaf() bool                    { return true }
func (v *Int) Truthy() bool                  { return v.N != 0 }
func (v *Int) Callable() bool                { return false }
func (v *Int) Kind() interp.Kind             { return interp.KindObject }
func (v *Int) Equal(o interp.Value) bool     { i, ok := o.(*Int); return ok && i.N == v.N }
func (v *Int) Identical(o interp.Value) bool { return v.Equal(o) }

// Str is a string value.
type Str struct{ S string }

func (v *Str) Repr() (string, error)         { return "'" + v.S + "'", nil }
func (v *Str) Hex() (string, error)          { return "", errors.New("interptest: not a number") }
func (v *Str) TypeName() string              { return "str" }
func (v *Str) Len() (int, bool)              { return len(v.S), true }
func (v *Str) Leaf() bool                    { return true }
func (v *Str) Truthy() bool                  { return v.S != "" }
func (v *Str) Callable() bool                { return false }
func (v *Str) Kind() interp.Kind             { return interp.KindObject }
func (v *Str) Equal(o interp.Value) bool     { s, ok := o.(*Str); return ok && s.S == v.S }
func (v *Str) Identical(o interp.Value) bool { return v.Equal(o) }

// Bool is a boolean value.
type Bool struct{ B bool }

func (v *Bool) Repr() (string, error) {
	if v.B {
		return "True", nil
	}
	return "False", nil
}
func (v *Bool) Hex() (string, error)          { return "", errors.New("interptest: not a number") }
func (v *Bool) TypeName() string              { return "bool" }
func (v *Bool) Len() (int, bool)              { return 0, false }
func (v *Bool) Leaf() bool                    { return true }
func (v *Bool) Truthy() bool                  { return v.B }
func (v *Bool) Callable() bool                { return false }
func (v *Bool) Kind() interp.Kind             { return interp.KindObject }
func (v *Bool) Equal(o interp.Value) bool     { b, ok := o.(*Bool); return ok && b.B == v.B }
func (v *Bool) Identical(o interp.Value) bool { return v.Equal(o) }

// None is the null value.
type None struct{}

func (v *None) Repr() (string, error)         { return "None", nil }
func (v *None) Hex() (string, error)          { return "", errors.New("interptest: not a number") }
func (v *None) TypeName() string              { return "NoneType" }
func (v *None) Len() (int, bool)              { return 0, false }
func (v *None) Leaf() bool                    { return true }
func (v *None) Truthy() bool                  { return false }
func (v *None) Callable() bool                { return false }
func (v *None) Kind() interp.Kind             { return interp.KindObject }
func (v *None) Equal(o interp.Value) bool     { _, ok := o.(*None); return ok }
func (v *None) Identical(o interp.Value) bool { return v.Equal(o) }

// List is an indexable, enumerable value.
type List struct{ Elems []interp.Value }

func (v *List) Repr() (string, error) {
	s := "["
	for i, e := range v.Elems {
		if i > 0 {
			s += ", "
		}
		r, err := e.Repr()
		if err != nil {
			return "", err
		}
		s += r
	}
	return s + "]", nil
}
func (v *List) Hex() (string, error)          { return "", errors.New("interptest: not a number") }
func (v *List) TypeName() string              { return "list" }
func (v *List) Len() (int, bool)              { return len(v.Elems), true }
func (v *List) Leaf() bool                    { return false }
func (v *List) Truthy() bool                  { return len(v.Elems) > 0 }
func (v *List) Callable() bool                { return false }
func (v *List) Kind() interp.Kind             { return interp.KindObject }
func (v *List) Equal(o interp.Value) bool     { return v.Identical(o) }
func (v *List) Identical(o interp.Value) bool { l, ok := o.(*List); return ok && l == v }

func (v *List) Index(i int) (interp.Value, error) {
	if i < 0 || i >= len(v.Elems) {
		return nil, errors.Errorf("interptest: index %d out of range", i)
	}
	return v.Elems[i], nil
}

func (v *List) Iterate() (interp.Iterator, error) {
	return &sliceIterator{elems: v.Elems}, nil
}

type sliceIterator struct {
	elems []interp.Value
	next  int
}

func (it *sliceIterator) Next() (interp.Value, bool) {
	if it.next >= len(it.elems) {
		return nil, false
	}
	v := it.elems[it.next]
	it.next++
	return v, true
}

// Dict is a mapping value with ordered entries.
type Dict struct{ Entries []interp.Entry }

func (v *Dict) Repr() (string, error)          { return "{...}", nil }
func (v *Dict) Hex() (string, error)           { return "", errors.New("interptest: not a number") }
func (v *Dict) TypeName() string               { return "dict" }
func (v *Dict) Len() (int, bool)               { return len(v.Entries), true }
func (v *Dict) Leaf() bool                     { return false }
func (v *Dict) Truthy() bool                   { return len(v.Entries) > 0 }
func (v *Dict) Callable() bool                 { return false }
func (v *Dict) Kind() interp.Kind              { return interp.KindObject }
func (v *Dict) Equal(o interp.Value) bool      { return v.Identical(o) }
func (v *Dict) Identical(o interp.Value) bool  { d, ok := o.(*Dict); return ok && d == v }
func (v *Dict) Items() ([]interp.Entry, error) { return v.Entries, nil }

// Generator is an enumerable value the debugger must not consume for child
// display.
type Generator struct{ Elems []interp.Value }

func (v *Generator) Repr() (string, error)         { return "<generator object>", nil }
func (v *Generator) Hex() (string, error)          { return "", errors.New("interptest: not a number") }
func (v *Generator) TypeName() string              { return "generator" }
func (v *Generator) Len() (int, bool)              { return 0, false }
func (v *Generator) Leaf() bool                    { return false }
func (v *Generator) Truthy() bool                  { return true }
func (v *Generator) Callable() bool                { return false }
func (v *Generator) Kind() interp.Kind             { return interp.KindGenerator }
func (v *Generator) Equal(o interp.Value) bool     { return v.Identical(o) }
func (v *Generator) Identical(o interp.Value) bool { g, ok := o.(*Generator); return ok && g == v }

func (v *Generator) Iterate() (interp.Iterator, error) {
	return &sliceIterator{elems: v.Elems}, nil
}

// Attr is one named attribute of an Obj.
type Attr struct {
	Name  string
	Value interp.Value
}

// Obj is a plain object exposing attributes.
type Obj struct {
	Type  string
	Attrs []Attr
}

func (v *Obj) Repr() (string, error)         { return "<" + v.Type + " object>", nil }
func (v *Obj) Hex() (string, error)          { return "", errors.New("interptest: not a number") }
func (v *Obj) TypeName() string              { return v.Type }
func (v *Obj) Len() (int, bool)              { return 0, false }
func (v *Obj) Leaf() bool                    { return false }
func (v *Obj) Truthy() bool                  { return true }
func (v *Obj) Callable() bool                { return false }
func (v *Obj) Kind() interp.Kind             { return interp.KindObject }
func (v *Obj) Equal(o interp.Value) bool     { return v.Identical(o) }
func (v *Obj) Identical(o interp.Value) bool { b, ok := o.(*Obj); return ok && b == v }

func (v *Obj) AttrNames() []string {
	names := make([]string, len(v.Attrs))
	for i, a := range v.Attrs {
		names[i] = a.Name
	}
	return names
}

func (v *Obj) Attr(name string) (interp.Value, error) {
	for _, a := range v.Attrs {
		if a.Name == name {
			return a.Value, nil
		}
	}
	return nil, errors.Errorf("interptest: no attribute %s", name)
}

// Func is a callable attribute value.
type Func struct{ Name string }

func (v *Func) Repr() (string, error)         { return "<function " + v.Name + ">", nil }
func (v *Func) Hex() (string, error)          { return "", errors.New("interptest: not a number") }
func (v *Func) TypeName() string              { return "function" }
func (v *Func) Len() (int, bool)              { return 0, false }
func (v *Func) Leaf() bool                    { return false }
func (v *Func) Truthy() bool                  { return true }
func (v *Func) Callable() bool                { return true }
func (v *Func) Kind() interp.Kind             { return interp.KindObject }
func (v *Func) Equal(o interp.Value) bool     { return v.Identical(o) }
func (v *Func) Identical(o interp.Value) bool { f, ok := o.(*Func); return ok && f == v }

// Type is an exception (or other) type value with base types for subtype
// tests.
type Type struct {
	Name  string
	Bases []*Type
}

func (v *Type) Repr() (string, error)         { return "<class '" + v.Name + "'>", nil }
func (v *Type) Hex() (string, error)          { return "", errors.New("interptest: not a number") }
func (v *Type) TypeName() string              { return "type" }
func (v *Type) Len() (int, bool)              { return 0, false }
func (v *Type) Leaf() bool                    { return false }
func (v *Type) Truthy() bool                  { return true }
func (v *Type) Callable() bool                { return true }
func (v *Type) Kind() interp.Kind             { return interp.KindType }
func (v *Type) Equal(o interp.Value) bool     { return v.Identical(o) }
func (v *Type) Identical(o interp.Value) bool { t, ok := o.(*Type); return ok && t == v }

// IsSubtypeOf walks the base-type chain.
func (v *Type) IsSubtypeOf(other *Type) bool {
	if v == other {
		return true
	}
	for _, b := range v.Bases {
		if b.IsSubtypeOf(other) {
			return true
		}
	}
	return false
}

// Module is a module value whose attributes dotted lookups walk through.
type Module struct {
	Name  string
	Attrs []Attr
}

func (v *Module) Repr() (string, error)         { return "<module '" + v.Name + "'>", nil }
func (v *Module) Hex() (string, error)          { return "", errors.New("interptest: not a number") }
func (v *Module) TypeName() string              { return "module" }
func (v *Module) Len() (int, bool)              { return 0, false }
func (v *Module) Leaf() bool                    { return false }
func (v *Module) Truthy() bool                  { return true }
func (v *Module) Callable() bool                { return false }
func (v *Module) Kind() interp.Kind             { return interp.KindModule }
func (v *Module) Equal(o interp.Value) bool     { return v.Identical(o) }
func (v *Module) Identical(o interp.Value) bool { m, ok := o.(*Module); return ok && m == v }

func (v *Module) AttrNames() []string {
	names := make([]string, len(v.Attrs))
	for i, a := range v.Attrs {
		names[i] = a.Name
	}
	return names
}

func (v *Module) Attr(name string) (interp.Value, error) {
	for _, a := range v.Attrs {
		if a.Name == name {
			return a.Value, nil
		}
	}
	return nil, errors.Errorf("interptest: no attribute %s", name)
}

// Exception is a scripted raised exception.
type Exception struct {
	Name      string
	Type      *Type
	Text      string
	Propagate bool
}

func (e *Exception) QualifiedName() string { return e.Name }
func (e *Exception) Format() string        { return e.Text }
func (e *Exception) Propagated() bool      { return e.Propagate }

func (e *Exception) IsInstanceOf(typ interp.Value) bool {
	t, ok := typ.(*Type)
	if !ok || e.Type == nil {
		return false
	}
	return e.Type.IsSubtypeOf(t)
}
