package liveedit

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonny5532/wagtail-liveedit/internal/testutil"
	"github.com/jonny5532/wagtail-liveedit/pkg/block"
	"github.com/jonny5532/wagtail-liveedit/pkg/document"
	"github.com/jonny5532/wagtail-liveedit/pkg/overlay"
	"github.com/jonny5532/wagtail-liveedit/pkg/revision"
	"github.com/jonny5532/wagtail-liveedit/pkg/schema"
	"github.com/jonny5532/wagtail-liveedit/pkg/storage"
	"github.com/jonny5532/wagtail-liveedit/pkg/version"
)

type countingRecorder struct {
	mutations map[string]int
	saves     map[string]int
	denials   int
}

func (r *countingRecorder) RecordMutation(op, status string) { r.mutations[op+"/"+status]++ }
func (r *countingRecorder) RecordSave(strategy string)       { r.saves[strategy]++ }
func (r *countingRecorder) RecordDenial()                    { r.denials++ }

type fixture struct {
	svc       *Service
	objects   *document.Store
	revisions *version.Store
	page      *document.Object
	footer    *document.Object
	metrics   *countingRecorder
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(filepath.Join(t.TempDir(), "liveedit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg, err := schema.Parse([]byte(testutil.Models))
	require.NoError(t, err)

	f := &fixture{
		objects:   document.NewStore(db),
		revisions: version.NewStore(db),
		metrics:   &countingRecorder{mutations: map[string]int{}, saves: map[string]int{}},
		now:       time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	pageFields, err := document.DecodeContent([]byte(`{"body": ` + testutil.Body + `}`))
	require.NoError(t, err)
	f.page = &document.Object{ContentTypeID: 1, Title: "Home", Slug: "home", Draftable: true, Fields: pageFields}
	require.NoError(t, f.objects.Create(ctx, f.page))

	footerFields, err := document.DecodeContent([]byte(`{"content": ` + testutil.FooterContent + `}`))
	require.NoError(t, err)
	f.footer = &document.Object{ContentTypeID: 2, Title: "Footer", Slug: "footer", Fields: footerFields}
	require.NoError(t, f.objects.Create(ctx, f.footer))

	f.svc = New(Config{
		Models:    reg,
		Objects:   f.objects,
		Revisions: f.revisions,
		Metrics:   f.metrics,
		Now:       func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) body(t *testing.T) *block.Sequence {
	t.Helper()
	obj, err := f.objects.Get(context.Background(), f.page.ID)
	require.NoError(t, err)
	return obj.Field("body")
}

func (f *fixture) target() overlay.Target {
	return overlay.Target{ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body"}
}

func (f *fixture) edit(id string) *overlay.EditRequest {
	return &overlay.EditRequest{ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body", ID: id}
}

func (f *fixture) revisionCount(t *testing.T, objectID int64) int {
	t.Helper()
	n, err := f.revisions.Count(context.Background(), objectID)
	require.NoError(t, err)
	return n
}

func childIDs(t *testing.T, seq *block.Sequence, id string) []string {
	t.Helper()
	loc, err := block.Locate(seq, id)
	require.NoError(t, err)
	for _, child := range block.Children(loc.Node()) {
		return child.IDs()
	}
	return nil
}

func TestAction_MovesAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Action(ctx, testutil.Editor(), &overlay.ActionRequest{
		ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body",
		ID: "t1", Action: "move_down", RedirectURL: "/pages/1/",
	})
	require.NoError(t, err)
	assert.Equal(t, revision.SaveNewRevision, res.Strategy)
	assert.Equal(t, []string{"t2", "t1", "s1", "l1", "r1", "c1"}, f.body(t).IDs())

	latest, err := f.revisions.Latest(ctx, f.page.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", latest.CreatedBy)
	assert.True(t, latest.Published())
	assert.Equal(t, 1, f.metrics.saves["new_revision"])
}

func TestAction_Nested(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Action(context.Background(), testutil.Editor(), &overlay.ActionRequest{
		ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body",
		ID: "s1-t2", Action: "move_up", RedirectURL: "/",
	})
	require.NoError(t, err)

	body := f.body(t)
	assert.Equal(t, []string{"s1-t2", "s1-t1"}, childIDs(t, body, "s1"))
	assert.Equal(t, []string{"t1", "t2", "s1", "l1", "r1", "c1"}, body.IDs())
}

func TestAction_EdgeSavesNothing(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Action(context.Background(), testutil.Editor(), &overlay.ActionRequest{
		ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body",
		ID: "t1", Action: "move_up", RedirectURL: "/",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Strategy)
	assert.Equal(t, 0, f.revisionCount(t, f.page.ID))
	assert.Equal(t, 1, f.metrics.mutations["move/noop"])
}

func TestAction_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := overlay.ActionRequest{
		ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body",
		ID: "t1", Action: "move_down", RedirectURL: "/",
	}

	cases := []struct {
		name   string
		user   bool
		mutate func(r *overlay.ActionRequest)
		want   error
	}{
		{"unknown block", true, func(r *overlay.ActionRequest) { r.ID = "nope" }, ErrNotFound},
		{"unknown action", true, func(r *overlay.ActionRequest) { r.Action = "sideways" }, ErrMalformed},
		{"unknown content type", true, func(r *overlay.ActionRequest) { r.ContentTypeID = 99 }, ErrNotFound},
		{"content type mismatch", true, func(r *overlay.ActionRequest) { r.ContentTypeID = 2 }, ErrNotFound},
		{"missing object", true, func(r *overlay.ActionRequest) { r.ObjectID = 999 }, ErrNotFound},
		{"field not on edit surface", true, func(r *overlay.ActionRequest) { r.ObjectField = "sidebar" }, ErrPermissionDenied},
		{"no admin access", false, func(r *overlay.ActionRequest) {}, ErrPermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			user := testutil.Outsider()
			if tc.user {
				user = testutil.Editor()
			}
			_, err := f.svc.Action(ctx, user, &req)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
	assert.Equal(t, 0, f.revisionCount(t, f.page.ID))
}

func TestPermission_PageNeedsPageCapability(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.EditForm(context.Background(), testutil.SnippetEditor(), f.edit("t1"))
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, 1, f.metrics.denials)
}

func TestEditForm(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.EditForm(context.Background(), testutil.Editor(), f.edit("c1-col1-t2"))
	require.NoError(t, err)
	assert.Equal(t, "text", p.BlockType)
	assert.True(t, p.CanDelete)
	assert.Equal(t, "No revisions yet", p.History)
	assert.Contains(t, p.Block, `"id":"c1-col1-t2"`)
}

func TestEditBlock_Saves(t *testing.T) {
	f := newFixture(t)

	form := url.Values{"block_edit_form-text": {"Changed"}}
	res, err := f.svc.EditBlock(context.Background(), testutil.Editor(), f.edit("r1"), form)
	require.NoError(t, err)
	assert.Equal(t, "r1", res.JumpToID)
	assert.Nil(t, res.Panel)

	loc, err := block.Locate(f.body(t), "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "Changed"}, block.Interface(loc.Value))

	entries, err := f.objects.FindBlock(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, string(entries[0].Prepared), "Changed")
}

func TestEditBlock_InvalidReturnsPanel(t *testing.T) {
	f := newFixture(t)

	form := url.Values{"block_edit_form-text": {""}}
	res, err := f.svc.EditBlock(context.Background(), testutil.Editor(), f.edit("r1"), form)

	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	require.NotNil(t, res.Panel)
	assert.Equal(t, schema.MsgRequired, verr.For("text").Error())
	assert.Equal(t, 0, f.revisionCount(t, f.page.ID))

	loc, err := block.Locate(f.body(t), "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "This is text"}, block.Interface(loc.Value))
}

func TestEditBlock_NestedStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Re-submitting a section with its second child removed
	form := url.Values{
		"block_edit_form-count":        {"2"},
		"block_edit_form-0-type":       {"text"},
		"block_edit_form-0-id":         {"s1-t1"},
		"block_edit_form-0-value-body": {"<p>Kept</p>"},
		"block_edit_form-1-type":       {"text"},
		"block_edit_form-1-id":         {"s1-t2"},
		"block_edit_form-1-deleted":    {"1"},
		"block_edit_form-1-value-body": {"<p>Gone</p>"},
	}
	_, err := f.svc.EditBlock(ctx, testutil.Editor(), f.edit("s1"), form)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1-t1"}, childIDs(t, f.body(t), "s1"))

	entries, err := f.objects.FindBlock(ctx, "s1-t2")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEditBlock_DuplicateIDRejected(t *testing.T) {
	f := newFixture(t)

	form := url.Values{
		"block_edit_form-count":        {"1"},
		"block_edit_form-0-type":       {"text"},
		"block_edit_form-0-id":         {"t1"},
		"block_edit_form-0-value-body": {"<p>Clash</p>"},
	}
	_, err := f.svc.EditBlock(context.Background(), testutil.Editor(), f.edit("s1"), form)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 0, f.revisionCount(t, f.page.ID))
}

func TestEditBlock_Delete(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.EditBlock(context.Background(), testutil.Editor(), f.edit("c1-col1-t1"), url.Values{"delete": {"1"}})
	require.NoError(t, err)
	assert.Empty(t, res.JumpToID)
	assert.Equal(t, []string{"c1-col1-t2"}, childIDs(t, f.body(t), "c1-col1"))
}

// scalarPage creates a page whose body holds plain heading and number blocks.
func (f *fixture) scalarPage(t *testing.T) *document.Object {
	t.Helper()
	fields, err := document.DecodeContent([]byte(`{"body": ` + testutil.ScalarBody + `}`))
	require.NoError(t, err)
	page := &document.Object{ContentTypeID: 1, Title: "Plain", Slug: "plain", Draftable: true, Fields: fields}
	require.NoError(t, f.objects.Create(context.Background(), page))
	return page
}

func TestEditBlock_InvalidScalarBlock(t *testing.T) {
	f := newFixture(t)
	page := f.scalarPage(t)

	tests := []struct {
		id    string
		input string
		want  string
	}{
		{"h1", "", schema.MsgRequired},
		{"n1", "abc", "Enter a whole number."},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			req := &overlay.EditRequest{ContentTypeID: 1, ObjectID: page.ID, ObjectField: "body", ID: tt.id}
			res, err := f.svc.EditBlock(context.Background(), testutil.Editor(), req, url.Values{schema.FormPrefix: {tt.input}})

			var verr *schema.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, verr.Message)
			require.NotNil(t, res)
			require.NotNil(t, res.Panel)
			assert.Equal(t, tt.want, res.Panel.Error)
			require.Len(t, res.Panel.Widgets, 1)
			assert.Equal(t, tt.input, res.Panel.Widgets[0].Value)
		})
	}
	assert.Equal(t, 2, f.metrics.mutations["edit/invalid"])
	assert.Equal(t, 0, f.revisionCount(t, page.ID))
}

func TestEditBlock_ScalarBlock(t *testing.T) {
	f := newFixture(t)
	page := f.scalarPage(t)

	req := &overlay.EditRequest{ContentTypeID: 1, ObjectID: page.ID, ObjectField: "body", ID: "n1"}
	res, err := f.svc.EditBlock(context.Background(), testutil.Editor(), req, url.Values{schema.FormPrefix: {"42"}})
	require.NoError(t, err)
	assert.Equal(t, "n1", res.JumpToID)

	obj, err := f.objects.Get(context.Background(), page.ID)
	require.NoError(t, err)
	loc, err := block.Locate(obj.Field("body"), "n1")
	require.NoError(t, err)
	assert.EqualValues(t, 42, block.Interface(loc.Value))
}

func TestEditBlock_EmptyDeleteValueEdits(t *testing.T) {
	f := newFixture(t)

	form := url.Values{"delete": {""}, "block_edit_form-text": {"Changed"}}
	res, err := f.svc.EditBlock(context.Background(), testutil.Editor(), f.edit("r1"), form)
	require.NoError(t, err)
	assert.Equal(t, "r1", res.JumpToID)

	body := f.body(t)
	assert.Equal(t, []string{"t1", "t2", "s1", "l1", "r1", "c1"}, body.IDs())
	loc, err := block.Locate(body, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "Changed"}, block.Interface(loc.Value))
}

func TestEditBlock_RevisionDebounce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	edit := func(text string) *Result {
		res, err := f.svc.EditBlock(ctx, testutil.Editor(), f.edit("r1"), url.Values{"block_edit_form-text": {text}})
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, revision.SaveNewRevision, edit("one").Strategy)
	f.now = f.now.Add(10 * time.Minute)
	assert.Equal(t, revision.SaveLive, edit("two").Strategy)
	assert.Equal(t, 1, f.revisionCount(t, f.page.ID))

	f.now = f.now.Add(2 * time.Hour)
	assert.Equal(t, revision.SaveNewRevision, edit("three").Strategy)
	assert.Equal(t, 2, f.revisionCount(t, f.page.ID))
}

func TestEditBlock_EditsPendingDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.page.Copy()
	require.NoError(t, err)
	require.NoError(t, block.Delete(draft.Field("body"), "t2"))
	_, err = f.revisions.SaveDraft(ctx, draft, "bob", f.now.Add(-time.Minute))
	require.NoError(t, err)

	res, err := f.svc.EditBlock(ctx, testutil.Editor(), f.edit("r1"), url.Values{"block_edit_form-text": {"Draft edit"}})
	require.NoError(t, err)
	assert.Equal(t, revision.SaveDraft, res.Strategy)

	live := f.body(t)
	assert.Equal(t, []string{"t1", "t2", "s1", "l1", "r1", "c1"}, live.IDs())
	loc, err := block.Locate(live, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "This is text"}, block.Interface(loc.Value))

	latest, err := f.revisions.Latest(ctx, f.page.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", latest.CreatedBy)
	assert.Equal(t, []string{"t1", "s1", "l1", "r1", "c1"}, latest.Fields["body"].IDs())
	loc, err = block.Locate(latest.Fields["body"], "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "Draft edit"}, block.Interface(loc.Value))
	assert.Equal(t, 1, f.revisionCount(t, f.page.ID))
}

func TestEditBlock_SnippetSavesLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := &overlay.EditRequest{ContentTypeID: 2, ObjectID: f.footer.ID, ObjectField: "content", ID: "f1"}
	res, err := f.svc.EditBlock(ctx, testutil.SnippetEditor(), req, url.Values{"block_edit_form-body": {"<p>New footer</p>"}})
	require.NoError(t, err)
	assert.Equal(t, revision.SaveLive, res.Strategy)
	assert.Equal(t, 0, f.revisionCount(t, f.footer.ID))

	obj, err := f.objects.Get(ctx, f.footer.ID)
	require.NoError(t, err)
	loc, err := block.Locate(obj.Field("content"), "f1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"body": "<p>New footer</p>"}, block.Interface(loc.Value))
}

func appendForm(body string, id string) url.Values {
	return url.Values{
		"block_edit_form-count":        {"1"},
		"block_edit_form-0-type":       {"text"},
		"block_edit_form-0-id":         {id},
		"block_edit_form-0-value-body": {body},
	}
}

func TestAppendForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.AppendForm(ctx, testutil.Editor(), &overlay.AppendRequest{ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body"})
	require.NoError(t, err)
	assert.Equal(t, "body", p.BlockType)
	assert.False(t, p.CanDelete)

	p, err = f.svc.AppendForm(ctx, testutil.Editor(), &overlay.AppendRequest{ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body", ID: "c1-col1-t1"})
	require.NoError(t, err)
	assert.Equal(t, "item", p.BlockType)

	_, err = f.svc.AppendForm(ctx, testutil.Editor(), &overlay.AppendRequest{ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body", ID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendBlocks_AtHead(t *testing.T) {
	f := newFixture(t)

	req := &overlay.AppendRequest{ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body"}
	res, err := f.svc.AppendBlocks(context.Background(), testutil.Editor(), req, appendForm("<p>First</p>", "t1"))
	require.NoError(t, err)
	assert.Empty(t, res.JumpToID)

	body := f.body(t)
	require.Equal(t, 7, body.Len())
	head := body.Nodes[0]
	assert.NotEqual(t, "t1", head.ID, "new blocks get fresh ids")
	assert.Equal(t, map[string]any{"body": "<p>First</p>"}, block.Interface(head.Value))
	assert.Equal(t, "t1", body.Nodes[1].ID)
	assert.NoError(t, block.CheckUnique(body))
}

func TestAppendBlocks_AfterNestedAnchor(t *testing.T) {
	f := newFixture(t)

	req := &overlay.AppendRequest{ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body", ID: "s1-t1"}
	_, err := f.svc.AppendBlocks(context.Background(), testutil.Editor(), req, appendForm("<p>Middle</p>", ""))
	require.NoError(t, err)

	ids := childIDs(t, f.body(t), "s1")
	require.Len(t, ids, 3)
	assert.Equal(t, "s1-t1", ids[0])
	assert.Equal(t, "s1-t2", ids[2])

	entries, err := f.objects.FindBlock(context.Background(), ids[1])
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s1", entries[0].ParentID)
	assert.Equal(t, 1, entries[0].Position)
}

func TestAppendBlocks_ListItem(t *testing.T) {
	f := newFixture(t)

	form := url.Values{
		"block_edit_form-count":        {"1"},
		"block_edit_form-0-value-body": {"<p>Second</p>"},
	}
	req := &overlay.AppendRequest{ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body", ID: "l1-i1"}
	_, err := f.svc.AppendBlocks(context.Background(), testutil.Editor(), req, form)
	require.NoError(t, err)

	body := f.body(t)
	loc, err := block.Locate(body, "l1-i1")
	require.NoError(t, err)
	require.Equal(t, 2, loc.Parent.Len())
	assert.Equal(t, "item", loc.Parent.Nodes[1].Type)
}

func TestAppendBlocks_Invalid(t *testing.T) {
	f := newFixture(t)

	req := &overlay.AppendRequest{ContentTypeID: 1, ObjectID: f.page.ID, ObjectField: "body"}
	res, err := f.svc.AppendBlocks(context.Background(), testutil.Editor(), req, appendForm("", ""))

	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	require.NotNil(t, res)
	assert.NotNil(t, res.Panel)
	assert.Equal(t, 6, f.body(t).Len())
}

func TestInsertBlocks_FreshNestedIDs(t *testing.T) {
	f := newFixture(t)

	data := []byte(`[{"type": "section", "id": "s1", "value": [
		{"type": "text", "id": "s1-t1", "value": {"body": "<p>Copied</p>"}}
	]}]`)
	_, err := f.svc.InsertBlocks(context.Background(), testutil.Editor(), f.target(), "c1", data)
	require.NoError(t, err)

	body := f.body(t)
	require.Equal(t, 7, body.Len())
	inserted := body.Nodes[6]
	assert.Equal(t, "section", inserted.Type)
	assert.NotEqual(t, "s1", inserted.ID)
	assert.NoError(t, block.CheckUnique(body))

	entries, err := f.objects.Index(context.Background(), f.page.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 14)
}

func TestInsertBlocks_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.InsertBlocks(ctx, testutil.Editor(), f.target(), "", []byte(`{"not": "a stream"}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = f.svc.InsertBlocks(ctx, testutil.Editor(), f.target(), "missing", []byte(`[]`))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.InsertBlocks(ctx, testutil.Editor(), f.target(), "", []byte(`[{"type": "counter", "id": "", "value": {"count": "500"}}]`))
	var verr *schema.ValidationError
	assert.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, 0, f.revisionCount(t, f.page.ID))
}

func TestBlock(t *testing.T) {
	f := newFixture(t)

	info, err := f.svc.Block(context.Background(), testutil.Editor(), f.target(), "c1-col1-t2")
	require.NoError(t, err)
	assert.Equal(t, "text", info.Type)
	assert.Equal(t, "c1-col1", info.ParentID)
	assert.Equal(t, 1, info.Index)
	assert.Equal(t, 2, info.Siblings)

	info, err = f.svc.Block(context.Background(), testutil.Editor(), f.target(), "l1")
	require.NoError(t, err)
	assert.Empty(t, info.ParentID)
	assert.Equal(t, 3, info.Index)
}
