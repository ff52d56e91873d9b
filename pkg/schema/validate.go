// ABOUTME: Per-block validators: required values, scalar parsing, CUE constraints
// ABOUTME: Produces cleaned block values or a ValidationError tree

package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/jonny5532/wagtail-liveedit/pkg/block"
)

// MsgRequired is reported for empty required values.
const MsgRequired = "This field is required."

// FieldError is a leaf validation message.
type FieldError string

func (e FieldError) Error() string { return string(e) }

// ValidationError collects the problems found in one block value.
type ValidationError struct {
	Message string           // Block-level problem, if any
	Fields  map[string]error // Member name (struct) or index (containers)
}

func (e *ValidationError) Error() string {
	var parts []string
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// For returns the error recorded for a member, or nil.
func (e *ValidationError) For(name string) error {
	if e == nil {
		return nil
	}
	return e.Fields[name]
}

func (e *ValidationError) set(name string, err error) {
	if e.Fields == nil {
		e.Fields = make(map[string]error)
	}
	e.Fields[name] = err
}

func (e *ValidationError) empty() bool {
	return e.Message == "" && len(e.Fields) == 0
}

// CUE values are not safe for concurrent use.
var (
	cueMu  sync.Mutex
	cueCtx = cuecontext.New()
)

func compileConstraint(src string) (cue.Value, error) {
	cueMu.Lock()
	defer cueMu.Unlock()
	v := cueCtx.CompileString(src)
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile cue constraint: %w", err)
	}
	return v, nil
}

// Clean validates a submitted value and returns its normalised form. On
// failure the returned value is the best-effort normalised input so that it
// can be redisplayed. The error is always a *ValidationError; a scalar
// block's message becomes its Message.
func (d *Def) Clean(v block.Value) (block.Value, error) {
	cleaned, err := d.cleanValue(v)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			err = &ValidationError{Message: err.Error()}
		}
	}
	return cleaned, err
}

// cleanValue validates v, leaving leaf errors as FieldError so members of a
// container keep their own messages.
func (d *Def) cleanValue(v block.Value) (block.Value, error) {
	cleaned, err := d.clean(v)
	if err != nil {
		return cleaned, err
	}
	if d.constraint != nil {
		if err := d.checkConstraint(cleaned); err != nil {
			return cleaned, &ValidationError{Message: err.Error()}
		}
	}
	return cleaned, nil
}

func (d *Def) clean(v block.Value) (block.Value, error) {
	switch d.Kind {
	case KindText, KindRichText:
		s := scalarString(v)
		if d.Required && strings.TrimSpace(s) == "" {
			return block.Scalar{V: s}, FieldError(MsgRequired)
		}
		return block.Scalar{V: s}, nil

	case KindInteger:
		s := strings.TrimSpace(scalarString(v))
		if s == "" {
			if d.Required {
				return block.Scalar{V: nil}, FieldError(MsgRequired)
			}
			return block.Scalar{V: nil}, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return block.Scalar{V: s}, FieldError("Enter a whole number.")
		}
		return block.Scalar{V: n}, nil

	case KindBoolean:
		switch b := scalarValue(v).(type) {
		case bool:
			return block.Scalar{V: b}, nil
		case string:
			on := b == "on" || b == "true" || b == "1"
			if d.Required && !on {
				return block.Scalar{V: false}, FieldError(MsgRequired)
			}
			return block.Scalar{V: on}, nil
		}
		return block.Scalar{V: false}, nil

	case KindStruct:
		return d.cleanStruct(v)

	case KindStream, KindList:
		return d.cleanSequence(v)
	}
	return v, fmt.Errorf("unknown kind %q", d.Kind)
}

func (d *Def) cleanStruct(v block.Value) (block.Value, error) {
	in, _ := v.(*block.Struct)
	out := block.NewStruct()
	verr := &ValidationError{}
	for _, f := range d.Fields {
		var member block.Value = block.Scalar{}
		found := false
		if in != nil {
			member, found = in.Get(f.Name)
		}
		if !found {
			member = f.Blank()
		}
		cleaned, err := f.cleanValue(member)
		if err != nil {
			verr.set(f.Name, err)
		}
		out.Set(f.Name, cleaned)
	}
	if !verr.empty() {
		return out, verr
	}
	return out, nil
}

func (d *Def) cleanSequence(v block.Value) (block.Value, error) {
	in, _ := v.(*block.Sequence)
	out := block.NewSequence()
	verr := &ValidationError{}
	if in == nil {
		in = block.NewSequence()
	}
	for i, n := range in.Nodes {
		child, ok := d.Child(n.Type)
		if !ok {
			verr.set(strconv.Itoa(i), FieldError(fmt.Sprintf("Unknown block type %q.", n.Type)))
			out.Nodes = append(out.Nodes, n)
			continue
		}
		cleaned, err := child.cleanValue(n.Value)
		if err != nil {
			verr.set(strconv.Itoa(i), err)
		}
		id := n.ID
		if id == "" {
			id = block.NewID()
		}
		out.Nodes = append(out.Nodes, block.NewNode(id, n.Type, cleaned))
	}
	if d.Required && len(out.Nodes) == 0 {
		verr.Message = MsgRequired
	}
	if !verr.empty() {
		return out, verr
	}
	return out, nil
}

// checkConstraint unifies the cleaned value, as JSON, with the compiled CUE
// constraint.
func (d *Def) checkConstraint(v block.Value) error {
	data, err := json.Marshal(block.Interface(v))
	if err != nil {
		return err
	}

	cueMu.Lock()
	defer cueMu.Unlock()
	doc := cueCtx.CompileBytes(data)
	if err := doc.Err(); err != nil {
		return err
	}
	return d.constraint.Unify(doc).Validate(cue.Concrete(true))
}

func scalarValue(v block.Value) any {
	if s, ok := v.(block.Scalar); ok {
		return s.V
	}
	return nil
}

func scalarString(v block.Value) string {
	switch s := scalarValue(v).(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}
