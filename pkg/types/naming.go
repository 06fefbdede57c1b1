package types

import (
	"path"
	"reflect"
	"strings"
	"sync"
)

// maxUnwrap bounds how many pointer/slice layers NameOf looks through.
const maxUnwrap = 8

// nameCache memoizes derived names by reflect.Type.
var nameCache sync.Map // map[reflect.Type]string

// NameOf derives a stable "pkg.Type" name for t, looking through pointers,
// slices, arrays and channels to the nearest named type. Unnamed or builtin
// types yield "".
func NameOf(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if v, ok := nameCache.Load(t); ok {
		return v.(string)
	}

	base := t
	for i := 0; i < maxUnwrap && base.Name() == ""; i++ {
		switch base.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Array, reflect.Chan:
			base = base.Elem()
		default:
			i = maxUnwrap
		}
	}

	name := ""
	if base.Name() != "" && base.PkgPath() != "" {
		name = path.Base(base.PkgPath()) + "." + stripTypeParams(base.Name())
	}
	nameCache.Store(t, name)
	return name
}

// stripTypeParams removes the generic instantiation suffix: "T[int]" -> "T".
func stripTypeParams(s string) string {
	if i := strings.IndexByte(s, '['); i >= 0 {
		return s[:i]
	}
	return s
}
