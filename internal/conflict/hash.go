package conflict

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Serialize produces a deterministic JSON encoding of a field map: keys
// are sorted so that two identical field maps (as structures) always
// produce byte-identical output, and therefore identical hashes (§8
// "hash determinism").
func Serialize(fields map[string]interface{}) (string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(fields[k])
		if err != nil {
			return "", err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// Hash returns the hex-encoded SHA-256 digest of snapshot.
func Hash(snapshot string) string {
	sum := sha256.Sum256([]byte(snapshot))
	return hex.EncodeToString(sum[:])
}

// HashFields is Serialize followed by Hash, the content-digest function
// used throughout §4.G.
func HashFields(fields map[string]interface{}) (string, error) {
	snapshot, err := Serialize(fields)
	if err != nil {
		return "", err
	}
	return Hash(snapshot), nil
}

// valuesEqual implements §4.G's semantic equality: primitives compare by
// ==, arrays/objects compare by stable JSON encoding.
func valuesEqual(a, b interface{}) bool {
	switch a.(type) {
	case map[string]interface{}, []interface{}:
		ab, errA := stableJSON(a)
		bb, errB := stableJSON(b)
		if errA != nil || errB != nil {
			return false
		}
		return ab == bb
	}
	switch b.(type) {
	case map[string]interface{}, []interface{}:
		ab, errA := stableJSON(a)
		bb, errB := stableJSON(b)
		if errA != nil || errB != nil {
			return false
		}
		return ab == bb
	}
	return a == b
}

func stableJSON(v interface{}) (string, error) {
	if m, ok := v.(map[string]interface{}); ok {
		s, err := Serialize(m)
		return s, err
	}
	b, err := json.Marshal(v)
	return string(b), err
}
