package remoting

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/morezero/remoting/pkg/commsutil"
	"github.com/morezero/remoting/pkg/contexts"
	"github.com/morezero/remoting/pkg/errs"
	"github.com/morezero/remoting/pkg/types"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// InvokeLocal serves an encoded call on the local object bound to uri.
func (s *Services) InvokeLocal(ctx context.Context, uri, member string, raw []json.RawMessage) ([]json.RawMessage, error) {
	id, ok := s.table.Resolve(uri)
	if !ok {
		return nil, &errs.Error{Code: errs.CodeObjectDisconnected, Message: "no object bound", Target: uri}
	}
	if err := id.Check(); err != nil {
		return nil, err
	}
	server := id.Server()
	if server == nil {
		return nil, &errs.Error{Code: errs.CodeObjectDisconnected, Message: "identity has no local object", Target: uri}
	}

	sctx := contexts.With(ctx, server.Context())
	obj, err := server.ServerObject(sctx)
	if err != nil {
		return nil, err
	}
	if fwd, ok := obj.(Forwarder); ok {
		return fwd.Forward(ctx, member, raw)
	}

	m, err := server.Method(obj, member)
	if err != nil {
		return nil, err
	}
	args, err := decodeArgs(m, raw)
	if err != nil {
		return nil, err
	}
	results, err := callMethod(sctx, obj, m, args, typeNameOf(server.Type(), obj))
	if err != nil {
		return nil, err
	}
	out, err := commsutil.EncodeArgs(results)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, uri, err, "cannot encode results of %s", member)
	}
	return out, nil
}

// params returns the method's parameter types after the receiver and an
// optional leading context.Context.
func params(mt reflect.Type) (wantsCtx bool, in []reflect.Type) {
	first := 1
	if mt.NumIn() > 1 && mt.In(1) == contextType {
		wantsCtx = true
		first = 2
	}
	for i := first; i < mt.NumIn(); i++ {
		in = append(in, mt.In(i))
	}
	return wantsCtx, in
}

func decodeArgs(m reflect.Method, raw []json.RawMessage) ([]any, error) {
	_, in := params(m.Type)
	if len(raw) != len(in) {
		return nil, errs.New(errs.CodeInvalidArgument, "%s takes %d arguments, got %d", m.Name, len(in), len(raw))
	}
	args := make([]any, len(raw))
	for i, r := range raw {
		v := reflect.New(in[i])
		if err := json.Unmarshal(r, v.Interface()); err != nil {
			return nil, errs.Wrap(errs.CodeInvalidArgument, m.Name, err, "argument %d", i)
		}
		args[i] = v.Elem().Interface()
	}
	return args, nil
}

// callMethod calls m on obj. A non-nil trailing error result, or a panic,
// is reported as a failure of user code.
func callMethod(ctx context.Context, obj any, m reflect.Method, args []any, typeName string) (results []any, err error) {
	wantsCtx, in := params(m.Type)
	if m.Type.IsVariadic() {
		return nil, errs.New(errs.CodeInvalidArgument, "variadic method %s cannot be invoked remotely", m.Name)
	}
	if len(args) != len(in) {
		return nil, errs.New(errs.CodeInvalidArgument, "%s takes %d arguments, got %d", m.Name, len(in), len(args))
	}

	values := []reflect.Value{reflect.ValueOf(obj)}
	if wantsCtx {
		values = append(values, reflect.ValueOf(ctx))
	}
	for i, a := range args {
		v, cerr := coerce(a, in[i])
		if cerr != nil {
			return nil, errs.Wrap(errs.CodeInvalidArgument, m.Name, cerr, "argument %d", i)
		}
		values = append(values, v)
	}

	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = &errs.UserCodeError{TypeName: typeName, Member: m.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out := m.Func.Call(values)

	if n := len(out); n > 0 && m.Type.Out(n-1) == errorType {
		if e, _ := out[n-1].Interface().(error); e != nil {
			return nil, &errs.UserCodeError{TypeName: typeName, Member: m.Name, Err: e}
		}
		out = out[:n-1]
	}
	for _, v := range out {
		results = append(results, v.Interface())
	}
	return results, nil
}

// coerce adapts a to t: directly when assignable, by conversion between
// basic kinds, and otherwise through its JSON form.
func coerce(a any, t reflect.Type) (reflect.Value, error) {
	if a == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(a)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if isBasic(v.Kind()) && isBasic(t.Kind()) && v.Type().ConvertibleTo(t) {
		return v.Convert(t), nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(t)
	if err := json.Unmarshal(data, out.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return out.Elem(), nil
}

func isBasic(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// decodeResults decodes wire results against member's declared result types
// when typ knows the method, and generically otherwise.
func decodeResults(typ *types.Type, member string, values []json.RawMessage) ([]any, error) {
	var outTypes []reflect.Type
	if typ != nil && typ.GoType != nil {
		if m, ok := typ.GoType.MethodByName(member); ok {
			for i := 0; i < m.Type.NumOut(); i++ {
				if t := m.Type.Out(i); t != errorType {
					outTypes = append(outTypes, t)
				}
			}
		}
	}

	results := make([]any, len(values))
	for i, raw := range values {
		if i < len(outTypes) {
			v := reflect.New(outTypes[i])
			if err := json.Unmarshal(raw, v.Interface()); err != nil {
				return nil, errs.Wrap(errs.CodeActivationFailed, member, err, "result %d", i)
			}
			results[i] = v.Elem().Interface()
			continue
		}
		if err := json.Unmarshal(raw, &results[i]); err != nil {
			return nil, errs.Wrap(errs.CodeActivationFailed, member, err, "result %d", i)
		}
	}
	return results, nil
}

func sameObject(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}

func reflectType(obj any) reflect.Type {
	return reflect.TypeOf(obj)
}

func typeNameOf(typ *types.Type, obj any) string {
	if typ != nil {
		return typ.QualifiedName()
	}
	return types.NameOf(reflect.TypeOf(obj))
}
