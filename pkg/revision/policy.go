// ABOUTME: Revision resolution policy: which copy of an object to edit and how to save it
// ABOUTME: Pure decision rule plus the resolver that loads state from the stores

package revision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonny5532/wagtail-liveedit/pkg/document"
	"github.com/jonny5532/wagtail-liveedit/pkg/version"
)

// DebounceWindow is how long a user's own latest revision absorbs further
// edits before a new revision is cut.
const DebounceWindow = time.Hour

// Strategy is how an edit is persisted.
type Strategy string

const (
	// SaveLive writes the live object directly.
	SaveLive Strategy = "live"
	// SaveDraft overwrites the latest (draft) revision in place.
	SaveDraft Strategy = "draft"
	// SaveNewRevision creates a revision by the editing user and publishes it.
	SaveNewRevision Strategy = "new_revision"
)

// LatestRevision is the part of the latest revision the policy looks at.
type LatestRevision struct {
	CreatedBy string
	CreatedAt time.Time
}

// State is the input of the decision rule.
type State struct {
	Draftable             bool
	HasUnpublishedChanges bool
	Latest                *LatestRevision // nil when the object has no revisions
}

// Decide picks the save strategy for an edit by user at now.
func Decide(s State, user string, now time.Time) Strategy {
	if !s.Draftable {
		return SaveLive
	}
	if s.HasUnpublishedChanges {
		return SaveDraft
	}
	if s.Latest == nil || s.Latest.CreatedBy != user || now.Sub(s.Latest.CreatedAt) >= DebounceWindow {
		return SaveNewRevision
	}
	return SaveLive
}

// EditTarget is the object copy to mutate and how to persist it.
type EditTarget struct {
	Object   *document.Object
	Strategy Strategy
	User     string
	Revision *version.Revision // Latest revision; set for SaveDraft
}

// Revisions is the revision store used by the resolver.
type Revisions interface {
	Latest(ctx context.Context, objectID int64) (*version.Revision, error)
	Create(ctx context.Context, rev *version.Revision) error
	UpdateContent(ctx context.Context, rev *version.Revision) error
	Publish(ctx context.Context, rev *version.Revision, obj *document.Object, now time.Time) error
}

// Objects is the object store used by the resolver.
type Objects interface {
	Save(ctx context.Context, obj *document.Object) error
}

// Resolver applies the policy against the stores.
type Resolver struct {
	objects   Objects
	revisions Revisions
}

// NewResolver creates a resolver.
func NewResolver(objects Objects, revisions Revisions) *Resolver {
	return &Resolver{objects: objects, revisions: revisions}
}

// Resolve decides where an edit to obj by user goes. It loads the draft copy
// when the object has unpublished changes and writes nothing.
func (r *Resolver) Resolve(ctx context.Context, obj *document.Object, user string, now time.Time) (*EditTarget, error) {
	state := State{Draftable: obj.Draftable, HasUnpublishedChanges: obj.HasUnpublishedChanges}

	var latest *version.Revision
	if obj.Draftable {
		rev, err := r.revisions.Latest(ctx, obj.ID)
		switch {
		case errors.Is(err, version.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load latest revision: %w", err)
		default:
			latest = rev
			state.Latest = &LatestRevision{CreatedBy: rev.CreatedBy, CreatedAt: rev.CreatedAt}
		}
	}

	target := &EditTarget{Object: obj, Strategy: Decide(state, user, now), User: user}
	if target.Strategy == SaveDraft {
		if latest == nil {
			return nil, fmt.Errorf("object %d has unpublished changes but no revision", obj.ID)
		}
		draft, err := latest.AsObject(obj)
		if err != nil {
			return nil, fmt.Errorf("load draft of object %d: %w", obj.ID, err)
		}
		target.Object = draft
		target.Revision = latest
	}
	return target, nil
}

// Apply persists the mutated target object according to its strategy.
func (r *Resolver) Apply(ctx context.Context, t *EditTarget, now time.Time) error {
	switch t.Strategy {
	case SaveLive:
		t.Object.LastPublishedAt = now
		return r.objects.Save(ctx, t.Object)

	case SaveDraft:
		t.Revision.Fields = t.Object.Fields
		return r.revisions.UpdateContent(ctx, t.Revision)

	case SaveNewRevision:
		rev := &version.Revision{
			ObjectID:  t.Object.ID,
			Fields:    t.Object.Fields,
			CreatedBy: t.User,
			CreatedAt: now,
		}
		if err := r.revisions.Create(ctx, rev); err != nil {
			return fmt.Errorf("create revision: %w", err)
		}
		if err := r.revisions.Publish(ctx, rev, t.Object, now); err != nil {
			return fmt.Errorf("publish revision %d: %w", rev.ID, err)
		}
		t.Revision = rev
		return nil
	}
	return fmt.Errorf("unknown save strategy %q", t.Strategy)
}
