package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// DefaultDescriptorLength is the embedding size produced by the face model.
const DefaultDescriptorLength = 128

// ErrMalformedDescriptor is returned when a stored or submitted descriptor cannot be normalized.
var ErrMalformedDescriptor = errors.New("malformed face descriptor")

// Descriptor is a fixed-length face embedding.
type Descriptor []float32

// ParseDescriptor normalizes the shapes clients have historically sent: a JSON array
// of numbers, or an object keyed by index ("0", "1", ...). want is the required length.
func ParseDescriptor(raw []byte, want int) (Descriptor, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var values []float32
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
		}
	case '{':
		var keyed map[string]float32
		if err := json.Unmarshal(raw, &keyed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
		}
		idx := make([]int, 0, len(keyed))
		for k := range keyed {
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 {
				return nil, fmt.Errorf("%w: key %q is not an index", ErrMalformedDescriptor, k)
			}
			idx = append(idx, i)
		}
		sort.Ints(idx)
		values = make([]float32, len(idx))
		for pos, i := range idx {
			if i != pos {
				return nil, fmt.Errorf("%w: missing index %d", ErrMalformedDescriptor, pos)
			}
			values[pos] = keyed[strconv.Itoa(i)]
		}
	case '"':
		// Some rows hold the JSON array encoded as a string.
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
		}
		return ParseDescriptor([]byte(inner), want)
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrMalformedDescriptor, raw[0])
	}

	d := Descriptor(values)
	if err := d.Check(want); err != nil {
		return nil, err
	}
	return d, nil
}

// Check verifies the descriptor has exactly want components.
func (d Descriptor) Check(want int) error {
	if want > 0 && len(d) != want {
		return fmt.Errorf("%w: got %d values, want %d", ErrMalformedDescriptor, len(d), want)
	}
	return nil
}

// UnmarshalJSON accepts both array and index-keyed object forms without a length check.
func (d *Descriptor) UnmarshalJSON(raw []byte) error {
	parsed, err := ParseDescriptor(raw, 0)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Encode returns the canonical JSON array form.
func (d Descriptor) Encode() ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal([]float32(d))
}
