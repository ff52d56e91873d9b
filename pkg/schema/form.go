// ABOUTME: Form decoding and encoding of block values under a name prefix
// ABOUTME: Mirrors the prefix-N-type/id/deleted/order/value postback layout

package schema

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/jonny5532/wagtail-liveedit/pkg/block"
)

// FormPrefix is the name prefix used by the edit panel.
const FormPrefix = "block_edit_form"

// ValueFromForm decodes a submitted value for d from form fields named under
// prefix. The result is not validated; pass it through Clean.
func (d *Def) ValueFromForm(form url.Values, prefix string) (block.Value, error) {
	switch d.Kind {
	case KindText, KindRichText, KindInteger, KindBoolean:
		return block.Scalar{V: form.Get(prefix)}, nil

	case KindStruct:
		st := block.NewStruct()
		for _, f := range d.Fields {
			v, err := f.ValueFromForm(form, prefix+"-"+f.Name)
			if err != nil {
				return nil, err
			}
			st.Set(f.Name, v)
		}
		return st, nil

	case KindStream, KindList:
		return d.sequenceFromForm(form, prefix)
	}
	return nil, fmt.Errorf("unknown kind %q", d.Kind)
}

type formEntry struct {
	order int
	node  *block.Node
}

func (d *Def) sequenceFromForm(form url.Values, prefix string) (*block.Sequence, error) {
	count := 0
	if raw := strings.TrimSpace(form.Get(prefix + "-count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s-count: invalid value %q", prefix, raw)
		}
		count = n
	}

	entries := make([]formEntry, 0, count)
	for i := 0; i < count; i++ {
		p := prefix + "-" + strconv.Itoa(i)
		if form.Get(p+"-deleted") != "" {
			continue
		}

		typ := form.Get(p + "-type")
		if d.Kind == KindList && d.Item != nil {
			typ = d.Item.Name
		}
		child, ok := d.Child(typ)
		if !ok {
			return nil, fmt.Errorf("%s-type: unknown block type %q", p, typ)
		}
		v, err := child.ValueFromForm(form, p+"-value")
		if err != nil {
			return nil, err
		}

		order := i
		if raw := form.Get(p + "-order"); raw != "" {
			if order, err = strconv.Atoi(raw); err != nil {
				return nil, fmt.Errorf("%s-order: invalid value %q", p, raw)
			}
		}

		id := form.Get(p + "-id")
		if id == "" {
			id = block.NewID()
		}
		entries = append(entries, formEntry{order: order, node: block.NewNode(id, typ, v)})
	}

	sort.SliceStable(entries, func(a, b int) bool { return entries[a].order < entries[b].order })
	seq := block.NewSequence()
	for _, e := range entries {
		seq.Nodes = append(seq.Nodes, e.node)
	}
	return seq, nil
}

// Blank returns the empty value of d.
func (d *Def) Blank() block.Value {
	switch d.Kind {
	case KindText, KindRichText:
		return block.Scalar{V: ""}
	case KindBoolean:
		return block.Scalar{V: false}
	case KindStruct:
		st := block.NewStruct()
		for _, f := range d.Fields {
			st.Set(f.Name, f.Blank())
		}
		return st
	case KindStream, KindList:
		return block.NewSequence()
	}
	return block.Scalar{}
}

// FormValues encodes v as the fields ValueFromForm reads back.
func (d *Def) FormValues(v block.Value, prefix string) url.Values {
	out := url.Values{}
	d.encode(out, v, prefix)
	return out
}

func (d *Def) encode(out url.Values, v block.Value, prefix string) {
	switch d.Kind {
	case KindText, KindRichText, KindInteger:
		out.Set(prefix, scalarString(v))
	case KindBoolean:
		if on, _ := scalarValue(v).(bool); on {
			out.Set(prefix, "on")
		}
	case KindStruct:
		st, _ := v.(*block.Struct)
		for _, f := range d.Fields {
			var member block.Value
			if st != nil {
				member, _ = st.Get(f.Name)
			}
			f.encode(out, member, prefix+"-"+f.Name)
		}
	case KindStream, KindList:
		seq, _ := v.(*block.Sequence)
		if seq == nil {
			seq = block.NewSequence()
		}
		out.Set(prefix+"-count", strconv.Itoa(seq.Len()))
		for i, n := range seq.Nodes {
			p := prefix + "-" + strconv.Itoa(i)
			out.Set(p+"-type", n.Type)
			out.Set(p+"-id", n.ID)
			out.Set(p+"-order", strconv.Itoa(i))
			out.Set(p+"-deleted", "")
			if child, ok := d.Child(n.Type); ok {
				child.encode(out, n.Value, p+"-value")
			}
		}
	}
}

// Lookup finds the definition of the block with the given id inside a
// stream field, along with the definition of the container holding it.
func Lookup(field *Def, seq *block.Sequence, id string) (def, parent *Def, err error) {
	if def, parent, ok := lookup(field, seq, id); ok {
		if def == nil {
			return nil, parent, fmt.Errorf("block %s: type not defined in %s", id, parent.Name)
		}
		return def, parent, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", block.ErrNotFound, id)
}

func lookup(container *Def, seq *block.Sequence, id string) (*Def, *Def, bool) {
	if seq == nil {
		return nil, nil, false
	}
	for _, n := range seq.Nodes {
		child, known := container.Child(n.Type)
		if n.ID == id {
			return child, container, true
		}
		if !known {
			continue
		}
		switch v := n.Value.(type) {
		case *block.Sequence:
			if def, parent, ok := lookup(child, v, id); ok {
				return def, parent, true
			}
		case *block.Struct:
			for _, f := range child.Fields {
				member, _ := v.Get(f.Name)
				inner, ok := member.(*block.Sequence)
				if !ok {
					continue
				}
				if def, parent, ok := lookup(f, inner, id); ok {
					return def, parent, true
				}
			}
		}
	}
	return nil, nil, false
}
