package debugger

import (
	"github.com/nanshuiyu/pytools/interp"
	"github.com/nanshuiyu/pytools/wire"
)

// safeRepr never fails; a repr that raises is itself worth showing.
func safeRepr(v interp.Value) string {
	s, err := v.Repr()
	if err != nil {
		return "__repr__ raised an exception"
	}
	return s
}

func safeHex(v interp.Value) (string, bool) {
	s, err := v.Hex()
	if err != nil {
		return "", false
	}
	return s, true
}

// wireString describes a bare string payload, such as a truncation marker.
func wireString(s string) wire.Object {
	return wire.Object{Repr: s, TypeName: "str"}
}

// describeValue builds the wire descriptor for a value. A value is
// non-expandable when its type is in the fixed leaf set or it is known to be
// empty.
func describeValue(v interp.Value) wire.Object {
	if v == nil {
		return wire.Object{Repr: "<undefined>", TypeName: "unknown"}
	}

	length, hasLen := v.Len()
	hex, hasHex := safeHex(v)
	return wire.Object{
		Repr:       safeRepr(v),
		Hex:        hex,
		HasHex:     hasHex,
		TypeName:   v.TypeName(),
		Expandable: !v.Leaf() && !(hasLen && length == 0),
	}
}
