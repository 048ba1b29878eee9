package dolt

import "encoding/json"

// marshalJSON and unmarshalJSON centralize the map/slice<->JSON-column
// conversions every CRUD file needs; Dolt (like MySQL) stores these as a
// native JSON column, so plain encoding/json round-trips cleanly.
func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
