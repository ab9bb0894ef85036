package offlinecache

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/goliatone/go-offline-cache/cache"
)

// Namespace returns the key namespace derived from T's type name, in
// snake_case: InventoryItem and *InventoryItem both give "inventory_item".
// Unnamed types give "".
func Namespace[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return toSnake(t.Name())
}

// KeyFor builds a key in T's namespace: namespace::method::args...
// Keys built this way can be invalidated per type with a Prefix or
// TenantScoped rule on "namespace::".
func KeyFor[T any](f *Facade, method string, args ...any) string {
	ns := Namespace[T]()
	if ns == "" {
		return f.serializer.SerializeKey(method, args...)
	}
	return f.serializer.SerializeKey(ns+cache.KeySeparator+method, args...)
}

// toSnake lowercases s and separates words with underscores. Anything that
// is not a letter or digit (generic brackets, package dots, pointers)
// becomes a separator so the result is safe inside a key segment.
func toSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + 4)

	sep := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
			b.WriteByte('_')
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					sep()
				}
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLower(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i > 0 && unicode.IsLetter(runes[i-1]) {
				sep()
			}
			b.WriteRune(r)
		default:
			sep()
		}
	}

	return strings.Trim(b.String(), "_")
}
