package liveedit

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"

	"github.com/jonny5532/wagtail-liveedit/pkg/document"
	"github.com/jonny5532/wagtail-liveedit/pkg/overlay"
	"github.com/jonny5532/wagtail-liveedit/pkg/permission"
	"github.com/jonny5532/wagtail-liveedit/pkg/version"
)

// DraftURL is where the latest revision of a page can be viewed.
func DraftURL(objectID, revisionID int64) string {
	return fmt.Sprintf("/pages/%d/?revision=%d", objectID, revisionID)
}

// RenderPage writes the public view of an object. Blocks carry overlay
// attributes only for a viewer allowed to edit them, on a path where live
// editing is enabled, in a view that shows the editable copy.
func (s *Service) RenderPage(ctx context.Context, w io.Writer, viewer *permission.User, path string, objectID int64, view overlay.ViewContext) error {
	obj, err := s.objects.Get(ctx, objectID)
	if errors.Is(err, document.ErrNotFound) {
		return fmt.Errorf("%w: object %d", ErrNotFound, objectID)
	}
	if err != nil {
		return err
	}
	model, ok := s.models.Model(obj.ContentTypeID)
	if !ok {
		return fmt.Errorf("%w: content type %d", ErrNotFound, obj.ContentTypeID)
	}

	shown := obj
	if view.RevisionID != 0 {
		rev, err := s.revisions.Get(ctx, view.RevisionID)
		if errors.Is(err, version.ErrNotFound) || (err == nil && rev.ObjectID != obj.ID) {
			return fmt.Errorf("%w: revision %d", ErrNotFound, view.RevisionID)
		}
		if err != nil {
			return err
		}
		if shown, err = rev.AsObject(obj); err != nil {
			return err
		}
	}

	subj := newSubject(obj, model)
	var (
		editing bool
		extra   template.HTML
	)
	if viewer.CanAccessAdmin() && s.enabler.Enabled(path) {
		state := overlay.Subject{
			Draftable:             obj.Draftable,
			CanEdit:               permission.CanEditObject(viewer, subj),
			HasUnpublishedChanges: obj.HasUnpublishedChanges,
		}
		if obj.Draftable && obj.HasUnpublishedChanges {
			latest, err := s.revisions.Latest(ctx, obj.ID)
			if err != nil && !errors.Is(err, version.ErrNotFound) {
				return err
			}
			if latest != nil {
				state.LatestRevisionID = latest.ID
				state.DraftURL = DraftURL(obj.ID, latest.ID)
			}
		}
		editing, extra = overlay.EditingAllowed(state, view)
	}

	data := overlay.PageData{Title: obj.Title, AssetBase: s.assetBase, Extra: extra}
	for _, def := range model.Fields {
		var (
			stamp       overlay.Stamp
			placeholder template.HTML
		)
		if editing && s.gate.Allowed(viewer, subj, def.Name) {
			base := overlay.Attributes{ContentTypeID: model.ContentTypeID, ObjectID: obj.ID, ObjectField: def.Name}
			stamp = overlay.ObjectStamp(base)
			placeholder = overlay.Placeholder(base)
			data.Assets = true
		}
		out, err := s.renderer.Field(def, shown.Fields[def.Name], stamp, placeholder)
		if err != nil {
			return fmt.Errorf("render %s: %w", def.Name, err)
		}
		data.Fields = append(data.Fields, out)
	}
	if extra != "" {
		data.Assets = true
	}
	return overlay.RenderPage(w, data)
}
