// ABOUTME: Block tree data model for structured page content
// ABOUTME: Defines Node, the sealed Value variant and container sequences

package block

import "encoding/json"

// Value is a sealed interface over the three shapes a block value can take.
// Only Scalar, *Struct and *Sequence implement it.
type Value interface {
	blockValue()
}

// Scalar is an opaque leaf payload (text, number, bool, null, plain lists).
type Scalar struct {
	V any
}

func (Scalar) blockValue() {}

// Field is one named entry of a Struct.
type Field struct {
	Name  string
	Value Value
}

// Struct is an ordered keyed mapping. Field order follows declaration (or
// storage) order so traversal is deterministic.
type Struct struct {
	fields []Field
}

func (*Struct) blockValue() {}

// NewStruct builds a struct value from fields in order.
func NewStruct(fields ...Field) *Struct {
	return &Struct{fields: fields}
}

// Fields returns the fields in order. The slice must not be modified.
func (s *Struct) Fields() []Field {
	return s.fields
}

// Get returns the value of the named field.
func (s *Struct) Get(name string) (Value, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the named field, appending it if absent.
func (s *Struct) Set(name string, v Value) {
	for i := range s.fields {
		if s.fields[i].Name == name {
			s.fields[i].Value = v
			return
		}
	}
	s.fields = append(s.fields, Field{Name: name, Value: v})
}

// Node is one typed block in a content tree.
type Node struct {
	ID    string // Stable identifier, unique within the tree
	Type  string // Block type name from the stream definition
	Value Value

	// raw is the prepared (shallow, serialized) value read by the block
	// index. Nested sequences appear in it as lists of child ids.
	raw json.RawMessage
}

// NewNode creates a node. Its prepared value is left empty until it is
// inserted through InsertAfter or prepared explicitly.
func NewNode(id, typ string, v Value) *Node {
	if v == nil {
		v = Scalar{}
	}
	n := &Node{ID: id, Type: typ, Value: v}
	if seq, ok := v.(*Sequence); ok {
		seq.owner = n
	}
	adoptStruct(n, v)
	return n
}

// Raw returns the prepared value, or nil when the node has never been
// prepared.
func (n *Node) Raw() json.RawMessage {
	return n.raw
}

// Prepare recomputes the prepared value from the node's current value.
func (n *Node) Prepare() error {
	raw, err := prepValue(n.Value)
	if err != nil {
		return err
	}
	n.raw = raw
	return nil
}

// setValue replaces the value and re-parents any sequences it contains.
func (n *Node) setValue(v Value) {
	n.Value = v
	if seq, ok := v.(*Sequence); ok {
		seq.owner = n
	}
	adoptStruct(n, v)
}

func adoptStruct(n *Node, v Value) {
	st, ok := v.(*Struct)
	if !ok {
		return
	}
	for _, f := range st.fields {
		if seq, ok := f.Value.(*Sequence); ok {
			seq.owner = n
		}
	}
}

// Sequence is an ordered list of nodes: a stream field, a stream block or a
// list block.
type Sequence struct {
	Nodes []*Node

	owner *Node // nil for a top-level stream
}

func (*Sequence) blockValue() {}

// NewSequence builds a sequence from nodes in order.
func NewSequence(nodes ...*Node) *Sequence {
	return &Sequence{Nodes: nodes}
}

// Owner returns the node whose value contains this sequence, or nil for a
// top-level stream.
func (s *Sequence) Owner() *Node {
	return s.owner
}

// Len returns the number of direct children.
func (s *Sequence) Len() int {
	return len(s.Nodes)
}

// IDs returns the ids of the direct children in order.
func (s *Sequence) IDs() []string {
	ids := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Index returns the position of the child with the given id, or -1.
func (s *Sequence) Index(id string) int {
	for i, n := range s.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Insert places a node at position i. Like the storage layer's incremental
// insert it does not prepare the node; callers that need an indexable
// node must prepare it themselves.
func (s *Sequence) Insert(i int, n *Node) {
	s.Nodes = append(s.Nodes, nil)
	copy(s.Nodes[i+1:], s.Nodes[i:])
	s.Nodes[i] = n
}

// touch refreshes the owner's prepared value after a structural change.
func (s *Sequence) touch() {
	if s.owner != nil && s.owner.raw != nil {
		_ = s.owner.Prepare()
	}
}
