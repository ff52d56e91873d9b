// ABOUTME: Block mutator: structural edits on a parent sequence
// ABOUTME: Reorder among siblings, delete and insert-after with cache refresh

package block

import (
	"fmt"

	"github.com/google/uuid"
)

// Action is a reorder request.
type Action string

const (
	ActionMoveUp   Action = "move_up"
	ActionMoveDown Action = "move_down"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionMoveUp, ActionMoveDown:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// NewID returns a fresh block id.
func NewID() string {
	return uuid.NewString()
}

// Move applies a reorder action. It reports whether a move happened.
func Move(seq *Sequence, id string, action Action) bool {
	switch action {
	case ActionMoveUp:
		return MoveUp(seq, id)
	case ActionMoveDown:
		return MoveDown(seq, id)
	}
	return false
}

// MoveUp swaps the block with its previous sibling. The block is searched
// for at every nesting level; the swap only ever happens among siblings.
func MoveUp(seq *Sequence, id string) bool {
	_, moved := move(seq, id, -1)
	return moved
}

// MoveDown swaps the block with its next sibling.
func MoveDown(seq *Sequence, id string) bool {
	_, moved := move(seq, id, +1)
	return moved
}

// move returns found=true once the level holding id has been reached, so
// that the search stops there even if the block sits at an edge.
func move(seq *Sequence, id string, delta int) (found, moved bool) {
	if i := seq.Index(id); i >= 0 {
		j := i + delta
		if j < 0 || j >= len(seq.Nodes) {
			return true, false
		}
		seq.Nodes[i], seq.Nodes[j] = seq.Nodes[j], seq.Nodes[i]
		seq.touch()
		return true, true
	}
	for _, n := range seq.Nodes {
		for _, child := range Children(n) {
			if found, moved := move(child, id, delta); found {
				return true, moved
			}
		}
	}
	return false, false
}

// Delete removes the block with the given id from parent. It does not
// search nested levels: callers locate the right parent first.
func Delete(parent *Sequence, id string) error {
	i := parent.Index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	parent.Nodes = append(parent.Nodes[:i], parent.Nodes[i+1:]...)
	parent.touch()
	return nil
}

// InsertAfter inserts nodes directly after the anchor block, keeping their
// order. An empty anchor inserts at the head of parent. If the anchor is not
// a child of parent nothing is inserted and ErrAnchorNotFound is returned.
func InsertAfter(parent *Sequence, anchor string, nodes []*Node) error {
	at := 0
	if anchor != "" {
		i := parent.Index(anchor)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrAnchorNotFound, anchor)
		}
		at = i + 1
	}

	// Render prepared values up front so a failure leaves parent untouched.
	raws := make([][]byte, len(nodes))
	for i, n := range nodes {
		if err := prepareChildren(n); err != nil {
			return err
		}
		raw, err := prepValue(n.Value)
		if err != nil {
			return fmt.Errorf("block %s: %w", n.ID, err)
		}
		raws[i] = raw
	}

	for j, n := range nodes {
		parent.Insert(at+j, n)
		// Insert leaves the prepared value empty; the block index would
		// otherwise record the new block as having no content.
		parent.Nodes[at+j].raw = raws[j]
	}
	parent.touch()
	return nil
}

// prepareChildren prepares every node nested below n.
func prepareChildren(n *Node) error {
	var err error
	for _, child := range Children(n) {
		Walk(child, func(_ *Sequence, _ int, c *Node) bool {
			err = c.Prepare()
			return err == nil
		})
		if err != nil {
			return fmt.Errorf("block %s: %w", n.ID, err)
		}
	}
	return nil
}
