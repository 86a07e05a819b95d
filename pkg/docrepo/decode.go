package docrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode indicates a read result could not be turned into the entity type.
var ErrDecode = errors.New("decode document")

// decode normalizes what a client returned for a read into a plain T.
func decode[T any](raw any) (T, error) {
	var out T

	switch v := raw.(type) {
	case T:
		return v, nil
	case *T:
		if v == nil {
			return out, fmt.Errorf("%w: nil %T", ErrDecode, raw)
		}
		return *v, nil
	case Snapshot:
		if err := v.DataTo(&out); err != nil {
			return out, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return out, nil
	case []byte:
		if err := unmarshal(v, &out); err != nil {
			return out, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return out, nil
	case json.RawMessage:
		if err := unmarshal(v, &out); err != nil {
			return out, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return out, nil
	case nil:
		return out, fmt.Errorf("%w: empty result", ErrDecode)
	}

	// Plain records (maps, driver documents) go through their JSON form.
	data, err := json.Marshal(raw)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return out, nil
}

// unmarshal decodes JSON into v. Numbers landing in interface values are
// kept as json.Number so large integers are not rounded through float64.
func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
