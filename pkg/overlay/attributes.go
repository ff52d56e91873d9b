// ABOUTME: Overlay attributes stamped on rendered blocks and the empty-stream placeholder
// ABOUTME: Also decides whether the current view of an object may be edited

package overlay

import (
	"encoding/json"
	"fmt"
	"html"
	"html/template"
)

// Attributes identify a block for the client overlay. Key order on the wire
// is id, block_type, content_type_id, object_id, object_field.
type Attributes struct {
	ID            string `json:"id,omitempty"`
	BlockType     string `json:"block_type,omitempty"`
	ContentTypeID int64  `json:"content_type_id"`
	ObjectID      int64  `json:"object_id"`
	ObjectField   string `json:"object_field"`
}

// ForBlock returns a copy of the object-level attributes naming one block.
func (a Attributes) ForBlock(id, blockType string) Attributes {
	a.ID = id
	a.BlockType = blockType
	return a
}

// JSON renders the attribute payload.
func (a Attributes) JSON() string {
	data, err := json.Marshal(a)
	if err != nil {
		// Only strings and integers; cannot fail.
		panic(err)
	}
	return string(data)
}

// Attr renders the data-liveedit attribute.
func (a Attributes) Attr() template.HTMLAttr {
	return template.HTMLAttr(fmt.Sprintf(`data-liveedit="%s"`, html.EscapeString(a.JSON())))
}

// Placeholder renders the insertion point for an empty stream. It never
// carries a block id.
func Placeholder(a Attributes) template.HTML {
	a.ID, a.BlockType = "", ""
	return template.HTML(fmt.Sprintf(`<div %s style="height: 2px"></div>`, a.Attr()))
}

// ViewContext describes how an object is being viewed.
type ViewContext struct {
	RevisionID int64 // Revision being rendered, 0 for the live object
	IsPreview  bool  // Unsaved preview of an edit
	IsDummy    bool  // Synthetic preview request
}

// Subject is what the view decision needs to know about an object.
type Subject struct {
	Draftable             bool
	CanEdit               bool
	HasUnpublishedChanges bool
	LatestRevisionID      int64
	DraftURL              string // Where the latest draft can be viewed
}

// EditingAllowed reports whether blocks in this view may be stamped. When
// the view shows stale content of an object with a pending draft, extra
// carries a script pointing the overlay at the draft.
func EditingAllowed(s Subject, view ViewContext) (allowed bool, extra template.HTML) {
	if !s.CanEdit {
		return false, ""
	}
	if !s.Draftable {
		return true, ""
	}

	if s.HasUnpublishedChanges {
		if view.RevisionID != s.LatestRevisionID {
			return false, DraftNotice(s.DraftURL)
		}
		if view.IsPreview {
			return false, ""
		}
	} else if view.IsDummy {
		return false, ""
	}
	return true, ""
}

// DraftNotice points the overlay at the latest draft.
func DraftNotice(url string) template.HTML {
	return template.HTML(fmt.Sprintf("<script>window._live_edit_draft_url='%s';</script>", template.JSEscapeString(url)))
}
