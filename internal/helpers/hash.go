package helpers

import (
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// From: http://boost.sourceforge.net/doc/html/boost/hash_combine.html
func HashCombine(seed uint64, hash uint64) uint64 {
	return seed ^ (hash + 0x9e3779b97f4a7c15 + (seed << 6) + (seed >> 2))
}

func HashString(text string) uint64 {
	return xxhash.Sum64String(text)
}

// HashStrings hashes a list of strings so that ["ab", "c"] and ["a", "bc"]
// produce different results.
func HashStrings(parts ...string) uint64 {
	d := xxhash.New()
	for _, part := range parts {
		d.WriteString(strconv.Itoa(len(part)))
		d.WriteString(":")
		d.WriteString(part)
	}
	return d.Sum64()
}

// HashHex returns the hash as a fixed-width lowercase hex string
func HashHex(hash uint64) string {
	var bytes [8]byte
	for i := 7; i >= 0; i-- {
		bytes[i] = byte(hash)
		hash >>= 8
	}
	return hex.EncodeToString(bytes[:])
}

// ShortHash is the 8-character form used in generated names
func ShortHash(parts ...string) string {
	return HashHex(HashStrings(parts...))[:8]
}
