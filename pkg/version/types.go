// ABOUTME: Revision data model for draftable objects
// ABOUTME: A revision is a content snapshot that can be published

package version

import (
	"errors"
	"time"

	"github.com/jonny5532/wagtail-liveedit/pkg/block"
	"github.com/jonny5532/wagtail-liveedit/pkg/document"
)

// ErrNotFound is returned when no matching revision exists.
var ErrNotFound = errors.New("revision not found")

// Revision represents a saved snapshot of an object's content
type Revision struct {
	ID          int64                      // Revision identifier
	ObjectID    int64                      // Object the snapshot belongs to
	Fields      map[string]*block.Sequence // Snapshot of the stream fields
	CreatedBy   string                     // Author username
	CreatedAt   time.Time                  // Creation time
	PublishedAt time.Time                  // Zero until published
}

// Published reports whether the revision has ever been published.
func (r *Revision) Published() bool {
	return !r.PublishedAt.IsZero()
}

// AsObject returns a copy of obj carrying this revision's content.
func (r *Revision) AsObject(obj *document.Object) (*document.Object, error) {
	snapshot := &document.Object{Fields: r.Fields}
	copied, err := snapshot.Copy()
	if err != nil {
		return nil, err
	}
	out := *obj
	out.Fields = copied.Fields
	return &out, nil
}
