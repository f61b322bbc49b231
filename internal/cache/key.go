package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxKeyLength is the longest key stored verbatim; longer keys are hashed.
const MaxKeyLength = 200

// normalize lower-cases s, strips diacritics and joins words with "-".
// ":" is reserved as the segment separator and becomes "-" as well.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, ":", " ")
	return strings.Join(strings.Fields(s), "-")
}

// Key derives a deterministic cache key from a namespace and the semantic
// inputs of a request. Only these values feed the key, so requests that
// differ by timestamps or request ids share one row.
//
//	Key("Direito Penal", " Furto ") == "direito-penal:furto"
func Key(namespace string, parts ...string) string {
	ns := normalize(namespace)
	segs := make([]string, 0, len(parts)+1)
	segs = append(segs, ns)
	for _, p := range parts {
		segs = append(segs, normalize(p))
	}
	key := strings.Join(segs, ":")
	if len(key) <= MaxKeyLength {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return ns + ":" + hex.EncodeToString(sum[:])
}

// GeoKey derives the key for a location search. Coordinates are rounded to
// two decimals (about 1 km), so nearby requests share a row.
//
//	GeoKey(-23.5505, -46.6333, 10000) == "geo:-23.55,-46.63,10000"
func GeoKey(lat, lng float64, radiusMeters int) string {
	return fmt.Sprintf("geo:%.2f,%.2f,%d", round2(lat), round2(lng), radiusMeters)
}

func round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0 // no "-0.00"
	}
	return r
}
