package entity

import (
	"encoding/json"
	"unicode/utf16"
)

// cyrb53 is a 53-bit non-cryptographic string hash over UTF-16 code units.
func cyrb53(s string, seed uint32) int64 {
	h1 := uint32(0xdeadbeef) ^ seed
	h2 := uint32(0x41c6ce57) ^ seed
	for _, ch := range utf16.Encode([]rune(s)) {
		h1 = (h1 ^ uint32(ch)) * 2654435761
		h2 = (h2 ^ uint32(ch)) * 1597334677
	}
	h1 = (h1 ^ (h1 >> 16)) * 2246822507
	h1 ^= (h2 ^ (h2 >> 13)) * 3266489909
	h2 = (h2 ^ (h2 >> 16)) * 2246822507
	h2 ^= (h1 ^ (h1 >> 13)) * 3266489909

	return int64(uint64(h2&2097151)<<32 | uint64(h1))
}

// GetHash fingerprints the submit values and lifecycle flags. Equal hashes
// mean nothing a consumer renders has changed.
func (e *Entity) GetHash() int64 {
	var (
		values map[string]any
		dirty  bool
	)
	if !e.isDestroyed {
		values = e.GetSubmitValues()
		dirty = e.IsDirty()
	}
	state := map[string]any{
		"values":      values,
		"isDestroyed": e.isDestroyed,
		"isPhantom":   e.IsPhantom(),
		"isDirty":     dirty,
		"isTempId":    e.isTempID,
	}
	b, err := json.Marshal(state)
	if err != nil {
		b = []byte(err.Error())
	}
	return cyrb53(string(b), 0)
}
