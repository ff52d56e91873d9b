package revision

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonny5532/wagtail-liveedit/internal/testutil"
	"github.com/jonny5532/wagtail-liveedit/pkg/block"
	"github.com/jonny5532/wagtail-liveedit/pkg/document"
	"github.com/jonny5532/wagtail-liveedit/pkg/storage"
	"github.com/jonny5532/wagtail-liveedit/pkg/version"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestDecide(t *testing.T) {
	mine := &LatestRevision{CreatedBy: "alice", CreatedAt: now.Add(-10 * time.Minute)}

	cases := []struct {
		name  string
		state State
		want  Strategy
	}{
		{"snippet", State{Draftable: false, HasUnpublishedChanges: true}, SaveLive},
		{"draft pending", State{Draftable: true, HasUnpublishedChanges: true, Latest: mine}, SaveDraft},
		{"draft pending by someone else", State{Draftable: true, HasUnpublishedChanges: true,
			Latest: &LatestRevision{CreatedBy: "bob", CreatedAt: now}}, SaveDraft},
		{"no revisions", State{Draftable: true}, SaveNewRevision},
		{"other author", State{Draftable: true, Latest: &LatestRevision{CreatedBy: "bob", CreatedAt: now}}, SaveNewRevision},
		{"recent own revision", State{Draftable: true, Latest: mine}, SaveLive},
		{"exactly one hour", State{Draftable: true,
			Latest: &LatestRevision{CreatedBy: "alice", CreatedAt: now.Add(-time.Hour)}}, SaveNewRevision},
		{"just under one hour", State{Draftable: true,
			Latest: &LatestRevision{CreatedBy: "alice", CreatedAt: now.Add(-time.Hour + time.Second)}}, SaveLive},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Decide(c.state, "alice", now))
		})
	}
}

type fixture struct {
	objects   *document.Store
	revisions *version.Store
	resolver  *Resolver
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "policy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{objects: document.NewStore(db), revisions: version.NewStore(db)}
	f.resolver = NewResolver(f.objects, f.revisions)
	return f
}

func (f *fixture) page(t *testing.T) *document.Object {
	t.Helper()
	fields, err := document.DecodeContent([]byte(`{"body": ` + testutil.Body + `}`))
	require.NoError(t, err)
	obj := &document.Object{ContentTypeID: 1, Title: "Home", Draftable: true, Fields: fields}
	require.NoError(t, f.objects.Create(context.Background(), obj))
	return obj
}

func TestResolveApply_NewRevisionThenDebounce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	obj := f.page(t)

	target, err := f.resolver.Resolve(ctx, obj, "alice", now)
	require.NoError(t, err)
	require.Equal(t, SaveNewRevision, target.Strategy)

	block.MoveDown(target.Object.Field("body"), "t1")
	require.NoError(t, f.resolver.Apply(ctx, target, now))

	n, err := f.revisions.Count(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	live, err := f.objects.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, target.Revision.ID, live.LiveRevisionID)
	assert.Equal(t, "t2", live.Field("body").IDs()[0])

	// A second edit within the window goes straight to the live object
	later := now.Add(5 * time.Minute)
	target, err = f.resolver.Resolve(ctx, live, "alice", later)
	require.NoError(t, err)
	require.Equal(t, SaveLive, target.Strategy)

	block.MoveUp(target.Object.Field("body"), "t1")
	require.NoError(t, f.resolver.Apply(ctx, target, later))

	n, err = f.revisions.Count(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "debounced edits create no revision")

	live, err = f.objects.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, "t1", live.Field("body").IDs()[0])
	assert.True(t, live.LastPublishedAt.Equal(later))

	// Another user always gets a fresh revision
	target, err = f.resolver.Resolve(ctx, live, "bob", later)
	require.NoError(t, err)
	assert.Equal(t, SaveNewRevision, target.Strategy)
}

func TestResolveApply_DraftEditedInPlace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	obj := f.page(t)

	draft, err := obj.Copy()
	require.NoError(t, err)
	require.NoError(t, block.Delete(draft.Field("body"), "t2"))
	_, err = f.revisions.SaveDraft(ctx, draft, "bob", now.Add(-2*time.Hour))
	require.NoError(t, err)

	live, err := f.objects.Get(ctx, obj.ID)
	require.NoError(t, err)

	target, err := f.resolver.Resolve(ctx, live, "alice", now)
	require.NoError(t, err)
	require.Equal(t, SaveDraft, target.Strategy)
	assert.Equal(t, 5, target.Object.Field("body").Len(), "edits apply to the draft copy")

	require.NoError(t, block.Delete(target.Object.Field("body"), "t1"))
	require.NoError(t, f.resolver.Apply(ctx, target, now))

	latest, err := f.revisions.Latest(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, target.Revision.ID, latest.ID)
	assert.Equal(t, []string{"s1", "l1", "r1", "c1"}, latest.Fields["body"].IDs())

	n, err := f.revisions.Count(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	live, err = f.objects.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, live.Field("body").Len(), "live content untouched")
	assert.True(t, live.HasUnpublishedChanges)
}

func TestResolveApply_SnippetSavesLive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	fields, err := document.DecodeContent([]byte(`{"content": ` + testutil.FooterContent + `}`))
	require.NoError(t, err)
	snippet := &document.Object{ContentTypeID: 2, Title: "Footer", Fields: fields}
	require.NoError(t, f.objects.Create(ctx, snippet))

	target, err := f.resolver.Resolve(ctx, snippet, "alice", now)
	require.NoError(t, err)
	require.Equal(t, SaveLive, target.Strategy)
	assert.Same(t, snippet, target.Object)

	require.NoError(t, block.Delete(target.Object.Field("content"), "f1"))
	require.NoError(t, f.resolver.Apply(ctx, target, now))

	got, err := f.objects.Get(ctx, snippet.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Field("content").Len())

	n, err := f.revisions.Count(ctx, snippet.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
