package interp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nanshuiyu/pytools/interp"
	"github.com/nanshuiyu/pytools/interp/interptest"
)

func resolveFrame() *interptest.Frame {
	code := &interptest.Code{FuncName: "fn", File: "/proj/app.py", First: 1}
	f := interptest.NewFrame(code, nil)

	errType := &interptest.Type{Name: "Error"}
	f.SetVar("local_err", errType)
	f.SetGlobal("global_err", errType)
	f.SetBuiltin("ValueError", errType)
	f.SetGlobal("pkg", &interptest.Module{
		Name: "pkg",
		Attrs: []interptest.Attr{
			{Name: "errors", Value: &interptest.Module{
				Name: "pkg.errors",
				Attrs: []interptest.Attr{
					{Name: "CustomError", Value: errType},
				},
			}},
		},
	})
	return f
}

func TestResolvePlainNames(t *testing.T) {
	f := resolveFrame()

	assert.NotNil(t, interp.Resolve(f, "local_err"))
	assert.NotNil(t, interp.Resolve(f, "global_err"))

	// Builtins resolve last, whether backed by a mapping or a module.
	assert.NotNil(t, interp.Resolve(f, "ValueError"))

	assert.Nil(t, interp.Resolve(f, "unknown"))
}

func TestResolveDottedName(t *testing.T) {
	f := resolveFrame()

	v := interp.Resolve(f, "pkg.errors.CustomError")
	if assert.NotNil(t, v) {
		assert.Equal(t, interp.KindType, v.Kind())
	}

	assert.Nil(t, interp.Resolve(f, "pkg.errors.Missing"))
	assert.Nil(t, interp.Resolve(f, "pkg.missing.Err"))
}

func TestResolveStopsAtNonModule(t *testing.T) {
	f := resolveFrame()
	f.SetVar("obj", &interptest.Obj{Type: "Thing", Attrs: []interptest.Attr{
		{Name: "attr", Value: &interptest.Int{N: 1}},
	}})

	// Attribute walks only traverse modules; a dotted path through a plain
	// object resolves to the object itself.
	v := interp.Resolve(f, "obj.attr")
	if assert.NotNil(t, v) {
		assert.Equal(t, "Thing", v.TypeName())
	}
}

func TestEventKindStrings(t *testing.T) {
	assert.Equal(t, "call", interp.EventCall.String())
	assert.Equal(t, "line", interp.EventLine.String())
	assert.Equal(t, "return", interp.EventReturn.String())
	assert.Equal(t, "exception", interp.EventException.String())
}
