// ABOUTME: JSON codec for stored stream content
// ABOUTME: Schema-agnostic decoding into Scalar, Struct and Sequence values

package block

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// storedNode is the persisted shape of one block.
type storedNode struct {
	Type  string `json:"type"`
	Value Value  `json:"value"`
	ID    string `json:"id"`
}

// probeNode is used to recognise block-shaped array elements.
type probeNode struct {
	Type  *string         `json:"type"`
	ID    *string         `json:"id"`
	Value json.RawMessage `json:"value"`
}

// ParseStream decodes a stored stream. An empty or missing payload yields an
// empty stream.
func ParseStream(data []byte) (*Sequence, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return NewSequence(), nil
	}
	v, err := decodeValue(data)
	if err != nil {
		return nil, err
	}
	seq, ok := v.(*Sequence)
	if !ok {
		return nil, fmt.Errorf("stream content is not a list of blocks")
	}
	return seq, nil
}

// ParseValue decodes a single block value.
func ParseValue(data []byte) (Value, error) {
	return decodeValue(bytes.TrimSpace(data))
}

func decodeValue(data []byte) (Value, error) {
	if len(data) == 0 {
		return Scalar{}, nil
	}
	switch data[0] {
	case '[':
		if seq, ok, err := decodeSequence(data); ok || err != nil {
			return seq, err
		}
	case '{':
		return decodeStruct(data)
	}
	return decodeScalar(data)
}

// decodeSequence returns ok=false when the array is not made of blocks.
func decodeSequence(data []byte) (*Sequence, bool, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, false, err
	}

	probes := make([]probeNode, len(elems))
	for i, e := range elems {
		e = bytes.TrimSpace(e)
		if len(e) == 0 || e[0] != '{' {
			return nil, false, nil
		}
		if err := json.Unmarshal(e, &probes[i]); err != nil {
			return nil, false, nil
		}
		if probes[i].ID == nil || probes[i].Type == nil {
			return nil, false, nil
		}
	}

	seq := NewSequence()
	for _, p := range probes {
		v, err := decodeValue(bytes.TrimSpace(p.Value))
		if err != nil {
			return nil, true, fmt.Errorf("block %s: %w", *p.ID, err)
		}
		n := NewNode(*p.ID, *p.Type, v)
		if err := n.Prepare(); err != nil {
			return nil, true, fmt.Errorf("block %s: %w", *p.ID, err)
		}
		seq.Nodes = append(seq.Nodes, n)
	}
	return seq, true, nil
}

// decodeStruct walks the object token by token to keep key order.
func decodeStruct(data []byte) (*Struct, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	st := NewStruct()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		v, err := decodeValue(bytes.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		st.fields = append(st.fields, Field{Name: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return st, nil
}

func decodeScalar(data []byte) (Scalar, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Scalar{}, err
	}
	return Scalar{V: v}, nil
}

// MarshalJSON renders the scalar payload.
func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.V)
}

// MarshalJSON renders fields in order.
func (s *Struct) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := marshalValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders the stored stream form. Values are always rendered
// from the live tree, never from prepared values.
func (s *Sequence) MarshalJSON() ([]byte, error) {
	out := make([]storedNode, len(s.Nodes))
	for i, n := range s.Nodes {
		v := n.Value
		if v == nil {
			v = Scalar{}
		}
		out[i] = storedNode{Type: n.Type, Value: v, ID: n.ID}
	}
	return json.Marshal(out)
}

func marshalValue(v Value) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// prepValue renders the shallow prepared form: nested sequences collapse to
// their child ids.
func prepValue(v Value) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case *Sequence:
		return json.Marshal(val.IDs())
	case *Struct:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, f := range val.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(f.Name)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			inner, err := prepValue(f.Value)
			if err != nil {
				return nil, err
			}
			buf.Write(inner)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return json.Marshal(val)
	}
}

// Interface converts a value to plain Go data (maps, slices, scalars) for
// validators and template rendering.
func Interface(v Value) any {
	switch val := v.(type) {
	case nil:
		return nil
	case Scalar:
		return val.V
	case *Struct:
		m := make(map[string]any, len(val.fields))
		for _, f := range val.fields {
			m[f.Name] = Interface(f.Value)
		}
		return m
	case *Sequence:
		out := make([]any, len(val.Nodes))
		for i, n := range val.Nodes {
			out[i] = map[string]any{"type": n.Type, "id": n.ID, "value": Interface(n.Value)}
		}
		return out
	}
	return nil
}
