// ABOUTME: Editable object data model: pages and snippets with stream fields
// ABOUTME: Defines Object, block index entries and the content codec

package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jonny5532/wagtail-liveedit/pkg/block"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Object is an editable page or snippet
type Object struct {
	ID                    int64                      // Primary key
	ContentTypeID         int64                      // Model of the object
	Title                 string                     // Display title
	Slug                  string                     // URL slug
	Draftable             bool                       // Pages have revisions and drafts
	Fields                map[string]*block.Sequence // Stream fields by name
	LiveRevisionID        int64                      // Published revision, 0 if none
	HasUnpublishedChanges bool                       // A draft revision is pending
	LastPublishedAt       time.Time
	UpdatedAt             time.Time
}

// Field returns a stream field, creating it empty if the object has none
// stored yet.
func (o *Object) Field(name string) *block.Sequence {
	if o.Fields == nil {
		o.Fields = make(map[string]*block.Sequence)
	}
	seq, ok := o.Fields[name]
	if !ok {
		seq = block.NewSequence()
		o.Fields[name] = seq
	}
	return seq
}

// Copy returns an independent copy of the object.
func (o *Object) Copy() (*Object, error) {
	data, err := EncodeContent(o.Fields)
	if err != nil {
		return nil, err
	}
	fields, err := DecodeContent(data)
	if err != nil {
		return nil, err
	}
	c := *o
	c.Fields = fields
	return &c, nil
}

// IndexEntry is one row of the block index.
type IndexEntry struct {
	ObjectID  int64
	Field     string
	BlockID   string
	BlockType string
	ParentID  string // Owning block, empty at the top level
	Position  int
	Prepared  json.RawMessage
}

// Summary is a listing row.
type Summary struct {
	ID                    int64
	ContentTypeID         int64
	Title                 string
	Slug                  string
	HasUnpublishedChanges bool
	UpdatedAt             time.Time
}

// EncodeContent serializes stream fields as a JSON object.
func EncodeContent(fields map[string]*block.Sequence) ([]byte, error) {
	out := make(map[string]*block.Sequence, len(fields))
	for name, seq := range fields {
		if seq == nil {
			seq = block.NewSequence()
		}
		out[name] = seq
	}
	return json.Marshal(out)
}

// DecodeContent parses stream fields stored by EncodeContent.
func DecodeContent(data []byte) (map[string]*block.Sequence, error) {
	var raw map[string]json.RawMessage
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(map[string]*block.Sequence, len(raw))
	for _, name := range names {
		seq, err := block.ParseStream(raw[name])
		if err != nil {
			return nil, fmt.Errorf("decode field %s: %w", name, err)
		}
		fields[name] = seq
	}
	return fields, nil
}
