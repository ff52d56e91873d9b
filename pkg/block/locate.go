// ABOUTME: Block locator: depth-first search of a content tree by block id
// ABOUTME: Returns handles for reading, replacing and parent-relative edits

package block

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrNotFound       = errors.New("block not found")
	ErrAnchorNotFound = errors.New("anchor block not found")
)

// VisitFunc is called for every node in pre-order. Returning false stops the
// walk.
type VisitFunc func(parent *Sequence, index int, n *Node) bool

// Walk visits every node of the tree depth-first, pre-order, in storage
// order. It descends into sequence values and into struct fields holding
// sequences. It reports whether the walk ran to completion.
func Walk(seq *Sequence, fn VisitFunc) bool {
	if seq == nil {
		return true
	}
	for i := 0; i < len(seq.Nodes); i++ {
		n := seq.Nodes[i]
		if !fn(seq, i, n) {
			return false
		}
		for _, child := range Children(n) {
			if !Walk(child, fn) {
				return false
			}
		}
	}
	return true
}

// Children returns the nested sequences directly held by a node's value.
func Children(n *Node) []*Sequence {
	switch v := n.Value.(type) {
	case *Sequence:
		return []*Sequence{v}
	case *Struct:
		var out []*Sequence
		for _, f := range v.fields {
			if seq, ok := f.Value.(*Sequence); ok {
				out = append(out, seq)
			}
		}
		return out
	}
	return nil
}

// LocateResult is a request-scoped handle to a located block.
type LocateResult struct {
	Type   string    // Block type of the matched node
	Value  Value     // Value at the time of the lookup
	Parent *Sequence // Immediate parent sequence
	Index  int       // Position within Parent
}

// Node returns the node currently at the bound position.
func (r *LocateResult) Node() *Node {
	if r.Index < 0 || r.Index >= len(r.Parent.Nodes) {
		return nil
	}
	return r.Parent.Nodes[r.Index]
}

// Set replaces the value of the node at the bound position of the parent
// sequence and refreshes its prepared value.
func (r *LocateResult) Set(v Value) error {
	n := r.Node()
	if n == nil {
		return fmt.Errorf("%w: position %d out of range", ErrNotFound, r.Index)
	}
	n.setValue(v)
	if err := prepareChildren(n); err != nil {
		return err
	}
	if err := n.Prepare(); err != nil {
		return err
	}
	r.Value = v
	return nil
}

// Locate finds the first node with the given id. The search order is the
// same pre-order used by Walk.
func Locate(seq *Sequence, id string) (*LocateResult, error) {
	var res *LocateResult
	Walk(seq, func(parent *Sequence, i int, n *Node) bool {
		if n.ID != id {
			return true
		}
		res = &LocateResult{Type: n.Type, Value: n.Value, Parent: parent, Index: i}
		return false
	})
	if res == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return res, nil
}

// ErrDuplicateID reports a tree in which two blocks share an id.
var ErrDuplicateID = errors.New("duplicate block id")

// CheckUnique verifies that no id appears twice in the tree.
func CheckUnique(seq *Sequence) error {
	seen := make(map[string]bool)
	var dup string
	Walk(seq, func(_ *Sequence, _ int, n *Node) bool {
		if seen[n.ID] {
			dup = n.ID
			return false
		}
		seen[n.ID] = true
		return true
	})
	if dup != "" {
		return fmt.Errorf("%w: %s", ErrDuplicateID, dup)
	}
	return nil
}
