package identity

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/morezero/remoting/pkg/contexts"
	"github.com/morezero/remoting/pkg/errs"
	"github.com/morezero/remoting/pkg/types"
)

// cacheSize bounds the per-identity type and method caches.
const cacheSize = 16

// Mode is how a server identity produces the object that serves a call.
type Mode int

const (
	// Marshaled serves one explicitly marshaled object.
	Marshaled Mode = iota
	// Singleton builds one object on first use and serves every call with it.
	Singleton
	// SingleCall builds a fresh object for every call.
	SingleCall
)

func (m Mode) String() string {
	switch m {
	case Marshaled:
		return "Marshaled"
	case Singleton:
		return "Singleton"
	case SingleCall:
		return "SingleCall"
	default:
		return "Unknown"
	}
}

// ParseMode parses the registration spelling of a well-known mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "Singleton":
		return Singleton, nil
	case "SingleCall":
		return SingleCall, nil
	default:
		return 0, errs.New(errs.CodeInvalidArgument, "unknown well-known mode %q", s)
	}
}

// Factory builds a server object for a well-known identity.
type Factory func(ctx context.Context) (any, error)

type objectBox struct{ v any }

// ServerIdentity is the server-side state of a LocalServer identity.
type ServerIdentity struct {
	mode    Mode
	typ     *types.Type
	sctx    *contexts.Context
	factory Factory

	mu     sync.Mutex
	object atomic.Pointer[objectBox]

	typeCache   *lru.Cache[string, *types.Type]
	methodCache *lru.Cache[string, reflect.Method]
}

// NewServerIdentity records obj, already built in sctx, as a marshaled server object.
func NewServerIdentity(obj any, typ *types.Type, sctx *contexts.Context) *ServerIdentity {
	s := newServer(Marshaled, typ, sctx, nil)
	s.object.Store(&objectBox{v: obj})
	return s
}

// NewWellKnown creates a server identity whose objects are built on demand.
func NewWellKnown(mode Mode, typ *types.Type, factory Factory) (*ServerIdentity, error) {
	if mode != Singleton && mode != SingleCall {
		return nil, errs.New(errs.CodeInvalidArgument, "well-known mode must be Singleton or SingleCall, got %s", mode)
	}
	if factory == nil {
		return nil, errs.New(errs.CodeInvalidArgument, "well-known type %s has no factory", typ.QualifiedName())
	}
	return newServer(mode, typ, contexts.Default(), factory), nil
}

func newServer(mode Mode, typ *types.Type, sctx *contexts.Context, factory Factory) *ServerIdentity {
	if sctx == nil {
		sctx = contexts.Default()
	}
	// lru.New only fails for a non-positive size.
	tc, _ := lru.New[string, *types.Type](cacheSize)
	mc, _ := lru.New[string, reflect.Method](cacheSize)
	return &ServerIdentity{mode: mode, typ: typ, sctx: sctx, factory: factory, typeCache: tc, methodCache: mc}
}

func (s *ServerIdentity) Mode() Mode                 { return s.mode }
func (s *ServerIdentity) Type() *types.Type          { return s.typ }
func (s *ServerIdentity) Context() *contexts.Context { return s.sctx }

// Object returns the current server object without building one.
func (s *ServerIdentity) Object() (any, bool) {
	if b := s.object.Load(); b != nil {
		return b.v, true
	}
	return nil, false
}

// ServerObject returns the object that serves the next call. Singletons are
// built at most once even under concurrent first use.
func (s *ServerIdentity) ServerObject(ctx context.Context) (any, error) {
	switch s.mode {
	case SingleCall:
		return s.factory(ctx)
	case Singleton:
		if b := s.object.Load(); b != nil {
			return b.v, nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if b := s.object.Load(); b != nil {
			return b.v, nil
		}
		obj, err := s.factory(ctx)
		if err != nil {
			return nil, err
		}
		s.object.Store(&objectBox{v: obj})
		return obj, nil
	default:
		if b := s.object.Load(); b != nil {
			return b.v, nil
		}
		return nil, errs.New(errs.CodeBadInternalState, "marshaled server identity has no object")
	}
}

// Method finds an exported method of obj by name, caching the lookup.
func (s *ServerIdentity) Method(obj any, name string) (reflect.Method, error) {
	if m, ok := s.methodCache.Get(name); ok {
		return m, nil
	}
	m, ok := reflect.TypeOf(obj).MethodByName(name)
	if !ok {
		return reflect.Method{}, &errs.Error{Code: errs.CodeMethodNotFound, Message: "no such method " + name, Target: s.typ.QualifiedName()}
	}
	s.methodCache.Add(name, m)
	return m, nil
}

// ResolveType resolves a type name through resolve, caching the result.
func (s *ServerIdentity) ResolveType(name string, resolve func(string) (*types.Type, error)) (*types.Type, error) {
	if t, ok := s.typeCache.Get(name); ok {
		return t, nil
	}
	t, err := resolve(name)
	if err != nil {
		return nil, err
	}
	s.typeCache.Add(name, t)
	return t, nil
}
