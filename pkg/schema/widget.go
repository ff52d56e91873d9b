// ABOUTME: Flattened form widgets for rendering a block value in the edit panel
// ABOUTME: Field names match what ValueFromForm decodes

package schema

import (
	"errors"
	"strconv"

	"github.com/jonny5532/wagtail-liveedit/pkg/block"
)

// Input kinds.
const (
	InputText     = "text"
	InputTextarea = "textarea"
	InputNumber   = "number"
	InputCheckbox = "checkbox"
	InputHidden   = "hidden"
	InputGroup    = "group"
)

// Widget is one row of a rendered form.
type Widget struct {
	Name    string
	Label   string
	Input   string
	Value   string
	Checked bool
	Error   string
	Depth   int
}

// Widgets flattens v into form rows under prefix, attaching the messages
// found in err.
func (d *Def) Widgets(v block.Value, prefix string, err error) []Widget {
	return d.widgets(nil, v, prefix, err, 0)
}

func (d *Def) widgets(out []Widget, v block.Value, prefix string, err error, depth int) []Widget {
	var verr *ValidationError
	message := ""
	if errors.As(err, &verr) {
		message = verr.Message
	} else if err != nil {
		message = err.Error()
	}

	switch d.Kind {
	case KindText, KindInteger:
		input := InputText
		if d.Kind == KindInteger {
			input = InputNumber
		}
		return append(out, Widget{Name: prefix, Label: d.Title(), Input: input, Value: scalarString(v), Error: message, Depth: depth})

	case KindRichText:
		return append(out, Widget{Name: prefix, Label: d.Title(), Input: InputTextarea, Value: scalarString(v), Error: message, Depth: depth})

	case KindBoolean:
		on := false
		switch b := scalarValue(v).(type) {
		case bool:
			on = b
		case string:
			on = b == "on" || b == "true" || b == "1"
		}
		return append(out, Widget{Name: prefix, Label: d.Title(), Input: InputCheckbox, Checked: on, Error: message, Depth: depth})

	case KindStruct:
		st, _ := v.(*block.Struct)
		out = append(out, Widget{Name: prefix, Label: d.Title(), Input: InputGroup, Error: message, Depth: depth})
		for _, f := range d.Fields {
			var member block.Value
			if st != nil {
				member, _ = st.Get(f.Name)
			}
			out = f.widgets(out, member, prefix+"-"+f.Name, verr.For(f.Name), depth+1)
		}
		return out

	case KindStream, KindList:
		seq, _ := v.(*block.Sequence)
		if seq == nil {
			seq = block.NewSequence()
		}
		out = append(out,
			Widget{Name: prefix, Label: d.Title(), Input: InputGroup, Error: message, Depth: depth},
			Widget{Name: prefix + "-count", Input: InputHidden, Value: strconv.Itoa(seq.Len()), Depth: depth},
		)
		for i, n := range seq.Nodes {
			p := prefix + "-" + strconv.Itoa(i)
			out = append(out,
				Widget{Name: p + "-type", Input: InputHidden, Value: n.Type, Depth: depth + 1},
				Widget{Name: p + "-id", Input: InputHidden, Value: n.ID, Depth: depth + 1},
				Widget{Name: p + "-order", Input: InputHidden, Value: strconv.Itoa(i), Depth: depth + 1},
				Widget{Name: p + "-deleted", Input: InputHidden, Depth: depth + 1},
			)
			child, ok := d.Child(n.Type)
			if !ok {
				continue
			}
			out = child.widgets(out, n.Value, p+"-value", verr.For(strconv.Itoa(i)), depth+1)
		}
		return out
	}
	return out
}
