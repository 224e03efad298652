// Package hashcode provides the pluggable identity-hashing
// capability used by write-side type states to deduplicate records,
// and the randomized version tag used to link producer states across
// a delta chain.
package hashcode

import (
	"crypto/rand"
	"encoding/binary"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/arborstate/vstate/schema"
	"github.com/arborstate/vstate/writehash"
)

// Finder computes a record's identity hash: two records with the same
// schema and the same identity hash (and, for the default finder,
// equal values) are treated as the same logical record across cycles.
// A Finder is supplied once at type-state construction and is
// thereafter treated as immutable and shared read-only (Design Notes
// §9: "model as a capability value supplied at construction, not via
// subclassing").
type Finder interface {
	// Hash returns the identity hash of rec, interpreted against s.
	Hash(s *schema.Schema, rec schema.Record) uint64
	// UsesDefault reports whether this Finder is the library's default
	// field-order hash, as opposed to a caller-supplied strategy keyed
	// on a primary key or hash-key field subset. It determines whether
	// the owning type is listed in the HashCodesDefined header tag.
	UsesDefault() bool
}

// defaultFinder hashes every field/element value, in schema order.
// It is used for any type that declares no primary key (Object) or no
// hash-key fields (Set, Map).
type defaultFinder struct{}

// Default is the library's built-in Finder, hashing every value of a
// record in schema-declared order.
var Default Finder = defaultFinder{}

func (defaultFinder) UsesDefault() bool { return true }

func (defaultFinder) Hash(s *schema.Schema, rec schema.Record) uint64 {
	h := xxhash.New()
	for _, v := range rec.Values {
		hashValue(h, v)
	}
	return h.Sum64()
}

// KeyFields returns a Finder that hashes only the values of the named
// fields (an Object's primary key, or a Set/Map's hash-key path),
// looked up by position in s.Fields. It is used whenever a schema
// declares a non-empty key path, so that two records agreeing on the
// key hash identically regardless of other field values.
func KeyFields(fieldNames []string) Finder {
	return &keyFieldsFinder{fieldNames: fieldNames}
}

type keyFieldsFinder struct {
	fieldNames []string
	mu         sync.Mutex // guards positions
	// positions caches, per schema name, the resolved field indices.
	// Schemas are immutable once registered, so this cache never goes
	// stale for the lifetime of a type-state.
	positions map[string][]int
}

func (*keyFieldsFinder) UsesDefault() bool { return false }

func (f *keyFieldsFinder) Hash(s *schema.Schema, rec schema.Record) uint64 {
	idx := f.resolve(s)
	h := xxhash.New()
	for _, i := range idx {
		hashValue(h, rec.Values[i])
	}
	return h.Sum64()
}

func (f *keyFieldsFinder) resolve(s *schema.Schema) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positions == nil {
		f.positions = make(map[string][]int)
	}
	if idx, ok := f.positions[s.Name]; ok {
		return idx
	}
	byName := make(map[string]int, len(s.Fields))
	for i, field := range s.Fields {
		byName[field.Name] = i
	}
	idx := make([]int, 0, len(f.fieldNames))
	for _, name := range f.fieldNames {
		if i, ok := byName[name]; ok {
			idx = append(idx, i)
		}
	}
	f.positions[s.Name] = idx
	return idx
}

func hashValue(h *xxhash.Digest, v schema.Value) {
	switch x := v.(type) {
	case bool:
		writehash.Bool(h, x)
	case int64:
		writehash.Int64(h, x)
	case float64:
		writehash.Float64(h, x)
	case string:
		writehash.String(h, x)
	case []byte:
		_, _ = h.Write(x)
	case schema.Ordinal:
		writehash.Uint32(h, x)
	default:
		// A value of an unrecognized dynamic type contributes nothing
		// to the hash; records are not checked against their schema
		// before they reach here.
	}
}

// Tag is a 64-bit randomized fingerprint identifying a specific
// producer-side state. Every emitted blob carries an origin Tag (the
// state before the transition) and a destination Tag (the state
// after); a consumer rejects a delta whose origin doesn't match its
// current Tag.
type Tag uint64

// NewTag draws a fresh, crypto/rand-sourced Tag. Tags are not meant to
// be predictable: a producer that restarts must not accidentally
// generate a Tag chain an old consumer could mistake for a
// continuation of its own history.
func NewTag() Tag {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("hashcode: crypto/rand unavailable: " + err.Error())
	}
	return Tag(binary.BigEndian.Uint64(buf[:]))
}

// HashCodesDefinedKey is the reserved header tag name listing, sorted
// and comma-separated, the set of type names whose identity hashing
// is not the library default.
const HashCodesDefinedKey = "HashCodesDefined"

// EncodeHashCodesDefined renders the sorted, comma-separated type-name
// list for the HashCodesDefined header tag. Sorting (rather than
// iteration order over a map) is what makes the tag's value
// byte-identical across runs for the same type set.
func EncodeHashCodesDefined(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// DecodeHashCodesDefined parses the value written by
// EncodeHashCodesDefined back into a set of type names.
func DecodeHashCodesDefined(value string) map[string]bool {
	out := make(map[string]bool)
	if value == "" {
		return out
	}
	for _, name := range strings.Split(value, ",") {
		out[name] = true
	}
	return out
}
