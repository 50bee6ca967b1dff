package query

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a query. Two keys are equal when their Scope matches and
// their Params encode to the same JSON value, so maps compare by content and
// structs compare field by field.
type Key struct {
	Scope  string
	Params any
}

func NewKey(scope string, params any) Key {
	return Key{Scope: scope, Params: params}
}

type canonicalKey struct {
	Scope  string `json:"s"`
	Params any    `json:"p"`
}

// String returns the canonical form used to index the cache.
func (k Key) String() string {
	b, err := json.Marshal(canonicalKey{Scope: k.Scope, Params: k.Params})
	if err != nil {
		// Params that cannot be encoded still need a stable identity.
		return fmt.Sprintf("%s|%#v", k.Scope, k.Params)
	}
	return string(b)
}

// Equal reports structural equality.
func (k Key) Equal(other Key) bool {
	return k.String() == other.String()
}

// Digest is a short, stable fingerprint of the key for logs.
func (k Key) Digest() string {
	return digest(k.String())
}

func digest(canonical string) string {
	return strconv.FormatUint(xxhash.Sum64String(canonical), 16)
}
