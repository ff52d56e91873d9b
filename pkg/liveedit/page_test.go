package liveedit

import (
	"bytes"
	"context"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonny5532/wagtail-liveedit/internal/testutil"
	"github.com/jonny5532/wagtail-liveedit/pkg/block"
	"github.com/jonny5532/wagtail-liveedit/pkg/overlay"
	"github.com/jonny5532/wagtail-liveedit/pkg/permission"
)

func renderPage(t *testing.T, f *fixture, viewer *permission.User, path string, view overlay.ViewContext) *goquery.Document {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, f.svc.RenderPage(context.Background(), &buf, viewer, path, f.page.ID, view))
	doc, err := goquery.NewDocumentFromReader(&buf)
	require.NoError(t, err)
	return doc
}

func TestRenderPage_StampsEditableField(t *testing.T) {
	f := newFixture(t)

	doc := renderPage(t, f, testutil.Editor(), "/pages/1/", overlay.ViewContext{})
	assert.Equal(t, "Home", doc.Find("h1").Text())
	assert.Equal(t, 12, doc.Find("[data-liveedit]").Length())
	assert.Equal(t, 1, doc.Find(`script[src$="js/liveedit.js"]`).Length())

	// The sidebar is not on the edit surface: no stamps and no placeholder
	sidebar := doc.Find("main").Eq(1)
	assert.Equal(t, 0, sidebar.Find("[data-liveedit]").Length())
}

func TestRenderPage_PlainForOthers(t *testing.T) {
	f := newFixture(t)

	for name, viewer := range map[string]*permission.User{
		"anonymous":      nil,
		"no admin":       testutil.Outsider(),
		"no page rights": testutil.SnippetEditor(),
	} {
		t.Run(name, func(t *testing.T) {
			doc := renderPage(t, f, viewer, "/pages/1/", overlay.ViewContext{})
			assert.Equal(t, 0, doc.Find("[data-liveedit]").Length())
			assert.Equal(t, 0, doc.Find("script").Length())
		})
	}
}

func TestRenderPage_DisabledPath(t *testing.T) {
	f := newFixture(t)
	enabler, err := overlay.NewEnabler([]string{"/blog/**"})
	require.NoError(t, err)
	f.svc.enabler = enabler

	doc := renderPage(t, f, testutil.Editor(), "/pages/1/", overlay.ViewContext{})
	assert.Equal(t, 0, doc.Find("[data-liveedit]").Length())
}

func TestRenderPage_PendingDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.page.Copy()
	require.NoError(t, err)
	require.NoError(t, block.Delete(draft.Field("body"), "t2"))
	rev, err := f.revisions.SaveDraft(ctx, draft, "bob", f.now)
	require.NoError(t, err)

	// Live view: stale content, overlay pointed at the draft
	doc := renderPage(t, f, testutil.Editor(), "/pages/1/", overlay.ViewContext{})
	assert.Equal(t, 0, doc.Find("[data-liveedit]").Length())
	assert.Contains(t, doc.Find("script").First().Text(), DraftURL(f.page.ID, rev.ID))
	assert.Equal(t, 1, doc.Find(".block-text h2").Length())

	// Draft view: editable, without the removed block
	doc = renderPage(t, f, testutil.Editor(), "/pages/1/", overlay.ViewContext{RevisionID: rev.ID})
	assert.Equal(t, 11, doc.Find("[data-liveedit]").Length())

	doc = renderPage(t, f, testutil.Editor(), "/pages/1/", overlay.ViewContext{RevisionID: rev.ID, IsPreview: true})
	assert.Equal(t, 0, doc.Find("[data-liveedit]").Length())
}

func TestRenderPage_EmptyFieldPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	obj, err := f.objects.Get(ctx, f.page.ID)
	require.NoError(t, err)
	obj.Fields["body"] = block.NewSequence()
	require.NoError(t, f.objects.Save(ctx, obj))

	doc := renderPage(t, f, testutil.Editor(), "/pages/1/", overlay.ViewContext{})
	placeholder := doc.Find(`div[style="height: 2px"]`)
	require.Equal(t, 1, placeholder.Length())
	raw, _ := placeholder.Attr("data-liveedit")
	assert.NotContains(t, raw, `"id"`)
}

func TestRenderPage_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var buf bytes.Buffer

	err := f.svc.RenderPage(ctx, &buf, nil, "/", 999, overlay.ViewContext{})
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.svc.RenderPage(ctx, &buf, nil, "/", f.page.ID, overlay.ViewContext{RevisionID: 42})
	assert.ErrorIs(t, err, ErrNotFound)
}
