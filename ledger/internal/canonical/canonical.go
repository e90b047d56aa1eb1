// Package canonical produces the deterministic JSON bytes that ledger hashes are computed over.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Field is one named value of a fixed-order object.
type Field struct {
	Name  string
	Value interface{}
}

// MarshalCanonical returns deterministic JSON bytes for an arbitrary JSON-like value.
// Rules:
//   - Objects: keys sorted lexicographically.
//   - Arrays: order preserved.
//   - json.Number keeps its textual form; other numbers go through encoding/json.
//   - Strings are forced to valid UTF-8 before encoding.
func MarshalCanonical(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalFields encodes fields as a single JSON object whose keys appear exactly in
// the given order. Values are encoded with the same rules as MarshalCanonical.
func MarshalFields(fields []Field) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(&buf, f.Name)
		buf.WriteByte(':')
		if err := encode(&buf, f.Value); err != nil {
			return nil, fmt.Errorf("canonical field %s: %w", f.Name, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Normalize round-trips v through the canonical encoding and decodes it back with
// UseNumber, yielding the exact value a reader of the persisted JSON will see.
func Normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := MarshalCanonical(v)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// Decode unmarshals JSON bytes into interface{} keeping numbers as json.Number.
func Decode(b []byte) (interface{}, error) {
	var out interface{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	return out, nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch vv := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if vv {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(vv.String())
	case float64:
		b, err := json.Marshal(vv)
		if err != nil {
			return err
		}
		buf.Write(b)
	case string:
		writeString(buf, vv)
	case *string:
		if vv == nil {
			buf.WriteString("null")
			return nil
		}
		writeString(buf, *vv)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range vv {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := encode(buf, vv[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// Structs, typed maps and slices: marshal, re-decode with UseNumber, encode recursively.
		b, err := json.Marshal(vv)
		if err != nil {
			return fmt.Errorf("canonical marshal fallback: %w", err)
		}
		tmp, err := Decode(b)
		if err != nil {
			return err
		}
		return encode(buf, tmp)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(strings.ToValidUTF8(s, "\uFFFD"))
	buf.Write(b)
}
