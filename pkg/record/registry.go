package record

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Built-in record type names.
const (
	TypeJSON  = "json"
	TypeBytes = "bytes"
	TypeText  = "text"
)

// Converter is a total conversion between two shapes, resolved at build time.
// The input is guaranteed to have the source shape.
type Converter func(v any) any

type conversionKey struct{ from, to string }

// Registry holds record types and the conversions between them. Safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	types       map[string]*Type
	aliases     map[string]string
	conversions map[conversionKey]func(any) any
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by the compiler.
func Default() *Registry { return defaultRegistry }

// NewRegistry returns a registry preloaded with the json, bytes and text
// record types and the text -> bytes conversion.
func NewRegistry() *Registry {
	r := &Registry{
		types:       make(map[string]*Type),
		aliases:     make(map[string]string),
		conversions: make(map[conversionKey]func(any) any),
	}

	mustRegister(r.Register(NewType[any](TypeJSON, JSONCodec[any]{}), "Value"))
	mustRegister(r.Register(NewType[[]byte](TypeBytes, BytesCodec{})))
	mustRegister(r.Register(NewType[string](TypeText, TextCodec{}), "String"))
	mustRegister(RegisterConversion(r, TypeText, TypeBytes, func(s string) []byte { return []byte(s) }))

	return r
}

func mustRegister(err error) {
	if err != nil {
		panic(err)
	}
}

// Register adds a record type, optionally reachable through aliases.
func (r *Registry) Register(t *Type, aliases ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := append([]string{t.name}, aliases...)
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("record type name must not be empty")
		}
		if _, exists := r.types[n]; exists {
			return fmt.Errorf("record type %s already registered", n)
		}
		if _, exists := r.aliases[n]; exists {
			return fmt.Errorf("record type %s already registered", n)
		}
	}

	r.types[t.name] = t
	for _, a := range aliases {
		r.aliases[a] = t.name
	}
	return nil
}

// Register adds the record type T to the default registry.
func Register[T any](name string, codec Codec[T], aliases ...string) error {
	return defaultRegistry.Register(NewType[T](name, codec), aliases...)
}

// Lookup resolves a record type by name or alias.
func (r *Registry) Lookup(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	t, ok := r.types[name]
	return t, ok
}

// Names returns the canonical names of all registered types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RegisterConversion registers a total conversion from record type from to
// record type to. S and D must be the Go types the two record types were
// registered with.
func RegisterConversion[S, D any](r *Registry, from, to string, fn func(S) D) error {
	src, ok := r.Lookup(from)
	if !ok {
		return fmt.Errorf("conversion %s -> %s: unknown record type %s", from, to, from)
	}
	dst, ok := r.Lookup(to)
	if !ok {
		return fmt.Errorf("conversion %s -> %s: unknown record type %s", from, to, to)
	}
	if want := reflect.TypeOf((*S)(nil)).Elem(); src.goType != want {
		return fmt.Errorf("conversion %s -> %s: record type %s holds %v, not %v", from, to, from, src.goType, want)
	}
	if want := reflect.TypeOf((*D)(nil)).Elem(); dst.goType != want {
		return fmt.Errorf("conversion %s -> %s: record type %s holds %v, not %v", from, to, to, dst.goType, want)
	}
	if src.name == dst.name {
		return fmt.Errorf("conversion %s -> %s: identity conversions are implicit", from, to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := conversionKey{src.name, dst.name}
	if _, exists := r.conversions[key]; exists {
		return fmt.Errorf("conversion %s -> %s already registered", src.name, dst.name)
	}
	r.conversions[key] = func(v any) any {
		typed, _ := v.(S)
		return fn(typed)
	}
	return nil
}

// Converter resolves the conversion from a source shape to a sink shape.
//
// Identical record types convert by identity. A plain value entering a keyed
// sink is wrapped in a Message keyed by the sink's record type name; a keyed
// value entering a plain sink loses its key. Between different record types a
// registered conversion is applied to the value and any key and headers are
// carried over.
func (r *Registry) Converter(src, dst Shape) (Converter, error) {
	srcType, ok := r.Lookup(src.Type)
	if !ok {
		return nil, fmt.Errorf("unknown record type %q", src.Type)
	}
	dstType, ok := r.Lookup(dst.Type)
	if !ok {
		return nil, fmt.Errorf("unknown record type %q", dst.Type)
	}

	value := func(v any) any { return v }
	if srcType.name != dstType.name {
		r.mu.RLock()
		fn, exists := r.conversions[conversionKey{srcType.name, dstType.name}]
		r.mu.RUnlock()
		if !exists {
			return nil, fmt.Errorf("no conversion from %s to %s", src, dst)
		}
		value = fn
	}

	key := dstType.name
	switch {
	case src.Keyed && dst.Keyed:
		return func(v any) any {
			m := v.(Message[any])
			return Message[any]{Key: m.Key, Value: value(m.Value), Headers: m.Headers}
		}, nil
	case src.Keyed:
		return func(v any) any {
			return value(v.(Message[any]).Value)
		}, nil
	case dst.Keyed:
		return func(v any) any {
			return Message[any]{Key: key, Value: value(v)}
		}, nil
	default:
		return Converter(value), nil
	}
}
