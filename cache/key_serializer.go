package cache

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// TenantKeyPrefix starts every tenant scoped key so that prefix invalidation
// of one tenant never touches another.
const TenantKeyPrefix = "tenant:"

// maxSegmentLength is the longest plain segment kept verbatim; longer or
// composite arguments are replaced by a digest.
const maxSegmentLength = 64

// defaultKeySerializer renders scalar arguments verbatim and hashes anything
// composite, so keys stay short, stable across processes and free of the
// separator.
type defaultKeySerializer struct {
	codec Codec
}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{codec: MsgpackCodec{}}
}

// SerializeKey builds method::arg1::arg2... from the given arguments.
func (s *defaultKeySerializer) SerializeKey(method string, args ...any) string {
	if len(args) == 0 {
		return method
	}

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, method)
	for _, arg := range args {
		parts = append(parts, s.serializeValue(arg))
	}
	return strings.Join(parts, KeySeparator)
}

// TenantKey prefixes a serialized key with the tenant namespace. An empty
// tenant yields the unscoped key.
func TenantKey(serializer KeySerializer, tenantID, method string, args ...any) string {
	key := serializer.SerializeKey(method, args...)
	if tenantID == "" {
		return key
	}
	return TenantPrefix(tenantID) + key
}

// TenantPrefix returns the key prefix shared by every key of tenantID.
func TenantPrefix(tenantID string) string {
	return TenantKeyPrefix + tenantID + KeySeparator
}

func (s *defaultKeySerializer) serializeValue(v any) string {
	if v == nil {
		return "nil"
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "nil"
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.String:
		str := rv.String()
		if len(str) <= maxSegmentLength && !strings.Contains(str, KeySeparator) {
			return str
		}
		return digest([]byte(str))
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%v", rv.Interface())
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		// Not representable across processes; the type is the best we can do.
		return "type:" + rv.Type().String()
	}

	data, err := s.codec.Encode(rv.Interface())
	if err != nil {
		return "type:" + rv.Type().String()
	}
	return digest(data)
}

func digest(data []byte) string {
	return fmt.Sprintf("h:%016x", xxhash.Sum64(data))
}
