package lookup

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrMalformedResponse is returned when a lookup body is neither of the two
// supported JSON shapes.
var ErrMalformedResponse = eris.New("lookup: malformed response")

// joinKeys are the array-shape fields that may hold the part number, in
// priority order.
var joinKeys = []string{"part", "part_no", "material"}

// DecodeResponse parses a lookup body. Two shapes are accepted: an object
// keyed by part number with {duns, cof, country} string values, or an array
// of objects each carrying a part key and a duns field. Array items missing
// either are skipped, so an empty result is not an error.
func DecodeResponse(body []byte) (map[string]Record, error) {
	var obj map[string]Record
	if err := decodeStrict(body, &obj); err == nil {
		return obj, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil || items == nil {
		return nil, eris.Wrapf(ErrMalformedResponse, "%s", preview(body, 500))
	}

	out := make(map[string]Record, len(items))
	for _, rawItem := range items {
		var item map[string]json.RawMessage
		if err := json.Unmarshal(rawItem, &item); err != nil {
			continue
		}
		part, ok := joinKey(item)
		if !ok {
			continue
		}
		duns, ok := stringField(item, "duns")
		if !ok {
			continue
		}
		cof, _ := stringField(item, "cof")
		country, _ := stringField(item, "country")
		out[part] = Record{DUNS: duns, COF: cof, Country: country}
	}

	if len(out) == 0 && len(items) > 0 {
		zap.L().Warn("lookup: could not extract part numbers from array response",
			zap.Int("items", len(items)),
			zap.String("body", preview(body, 500)),
		)
	}
	return out, nil
}

// decodeStrict decodes the object shape, requiring every value to carry all
// three fields as strings.
func decodeStrict(body []byte, out *map[string]Record) error {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return err
	}
	if raw == nil {
		return eris.New("lookup: not an object")
	}
	m := make(map[string]Record, len(raw))
	for part, fields := range raw {
		var rec Record
		var ok bool
		if rec.DUNS, ok = stringField(fields, "duns"); !ok {
			return eris.Errorf("lookup: %q: duns missing", part)
		}
		if rec.COF, ok = stringField(fields, "cof"); !ok {
			return eris.Errorf("lookup: %q: cof missing", part)
		}
		if rec.Country, ok = stringField(fields, "country"); !ok {
			return eris.Errorf("lookup: %q: country missing", part)
		}
		m[part] = rec
	}
	*out = m
	return nil
}

// joinKey returns the first present join key. A present key that is not a
// string disqualifies the item.
func joinKey(item map[string]json.RawMessage) (string, bool) {
	for _, k := range joinKeys {
		if _, present := item[k]; present {
			return stringField(item, k)
		}
	}
	return "", false
}

func stringField(m map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return "", false
	}
	return *s, true
}

func preview(body []byte, n int) string {
	r := []rune(string(body))
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
