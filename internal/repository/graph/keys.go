package graph

import (
	"encoding/binary"
	"math"
)

// Key scheme for corpus graph storage.
const (
	nodeKeyPrefix   = "node:"
	unitKeyPrefix   = "unit:"
	domainKeyPrefix = "domain:meta:"
	membersPrefix   = "domain:members:"
	parentsPrefix   = "edge:parents:"
	childrenPrefix  = "edge:children:"
	refsPrefix      = "edge:refs:" // outbound implements/derived-from cross-references
	unassignedKey   = "nodes:unassigned"

	// Index names for the three retrieval surfaces.
	contentIndexName  = "idx:lexshard:content"
	relationIndexName = "idx:lexshard:relation"
	unitIndexName     = "idx:lexshard:unit"
)

func nodeKey(id string) string    { return nodeKeyPrefix + id }
func unitKey(id string) string    { return unitKeyPrefix + id }
func domainKey(id string) string  { return domainKeyPrefix + id }
func membersKey(id string) string { return membersPrefix + id }
func parentsKey(id string) string { return parentsPrefix + id }
func childrenKey(id string) string { return childrenPrefix + id }
func refsKey(id string) string    { return refsPrefix + id }

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector deserializes a binary string back to []float32.
func bytesToVector(s string) []float32 {
	b := []byte(s)
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
