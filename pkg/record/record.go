// Package record defines the records that flow through pipelines, the codecs
// connectors use to put them on the wire, and the conversions that connect a
// source's record shape to a sink's.
//
// A record type is registered once under a name (the "record_type" of a
// reader or writer spec) together with its codec. Connectors that carry keys,
// such as topic consumers and producers, wrap the value in a Message; plain
// connectors such as the HTTP poller yield the value itself. Shape captures
// that distinction so the compiler can resolve a Converter for every
// source/sink pair before anything runs.
package record

import (
	"bytes"
	"fmt"
	"reflect"
	"unicode/utf8"

	jsonpool "github.com/gbPagano/courier/pkg/json"
)

// Message is the keyed envelope carried by topic connectors.
type Message[T any] struct {
	Key     string
	Value   T
	Headers map[string]string
}

// Clone returns a copy whose Headers map is not shared with m.
func (m Message[T]) Clone() Message[T] {
	out := m
	if m.Headers != nil {
		out.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// Clone copies an erased record so that it can be handed to several sinks.
// Messages get their own headers and byte slices their own backing array;
// other values are returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case Message[any]:
		t = t.Clone()
		t.Value = Clone(t.Value)
		return t
	case []byte:
		return bytes.Clone(t)
	default:
		return v
	}
}

// Keyed returns a conversion that wraps a plain value in a Message keyed by
// key.
func Keyed[T any](key string) func(T) Message[T] {
	return func(v T) Message[T] {
		return Message[T]{Key: key, Value: v}
	}
}

// Identity is the conversion between identical shapes.
func Identity[T any](v T) T { return v }

// Codec converts between a record value and its wire payload.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec encodes values as JSON text. Decoding into interface{} keeps
// numbers in their textual form so large integers survive a round trip.
type JSONCodec[T any] struct{}

// Encode implements Codec.
func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return jsonpool.Encode(v)
}

// Decode implements Codec.
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if !jsonpool.Valid(data) {
		return v, fmt.Errorf("invalid JSON payload")
	}
	if err := jsonpool.Decode(bytes.NewReader(data), &v); err != nil {
		return v, err
	}
	return v, nil
}

// BytesCodec passes payloads through untouched.
type BytesCodec struct{}

// Encode implements Codec.
func (BytesCodec) Encode(v []byte) ([]byte, error) { return v, nil }

// Decode implements Codec.
func (BytesCodec) Decode(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

// TextCodec requires payloads to be valid UTF-8.
type TextCodec struct{}

// Encode implements Codec.
func (TextCodec) Encode(v string) ([]byte, error) {
	if !utf8.ValidString(v) {
		return nil, fmt.Errorf("value is not valid UTF-8")
	}
	return []byte(v), nil
}

// Decode implements Codec.
func (TextCodec) Decode(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("payload is not valid UTF-8")
	}
	return string(data), nil
}

// Type is a registered record type. It carries a type-erased view of the
// codec so connectors built from a spec can be instantiated with T = any
// while still producing values of the registered Go type.
type Type struct {
	name   string
	goType reflect.Type
	encode func(any) ([]byte, error)
	decode func([]byte) (any, error)
}

// NewType describes the record type T under name.
func NewType[T any](name string, codec Codec[T]) *Type {
	goType := reflect.TypeOf((*T)(nil)).Elem()
	return &Type{
		name:   name,
		goType: goType,
		encode: func(v any) ([]byte, error) {
			typed, ok := v.(T)
			if !ok && (v != nil || goType.Kind() != reflect.Interface) {
				return nil, fmt.Errorf("record type %s: cannot encode %T", name, v)
			}
			return codec.Encode(typed)
		},
		decode: func(data []byte) (any, error) {
			return codec.Decode(data)
		},
	}
}

// Name returns the registered name.
func (t *Type) Name() string { return t.name }

// GoType returns the Go type values of this record type have.
func (t *Type) GoType() reflect.Type { return t.goType }

// Codec returns the erased codec for this type.
func (t *Type) Codec() Codec[any] { return erasedCodec{t} }

type erasedCodec struct{ t *Type }

func (c erasedCodec) Encode(v any) ([]byte, error)    { return c.t.encode(v) }
func (c erasedCodec) Decode(data []byte) (any, error) { return c.t.decode(data) }

// Shape is the record shape a connector produces or accepts: a registered
// record type, optionally wrapped in a Message.
type Shape struct {
	Keyed bool
	Type  string
}

// Plain returns the unwrapped shape of typeName.
func Plain(typeName string) Shape { return Shape{Type: typeName} }

// KeyedShape returns the Message-wrapped shape of typeName.
func KeyedShape(typeName string) Shape { return Shape{Keyed: true, Type: typeName} }

// String renders the shape the way it appears in build errors.
func (s Shape) String() string {
	if s.Keyed {
		return "Message[" + s.Type + "]"
	}
	return s.Type
}
