package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonny5532/wagtail-liveedit/internal/testutil"
	"github.com/jonny5532/wagtail-liveedit/pkg/storage"
)

// writeConfig lays out a config, model file and database path in a temp dir.
func writeConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	modelsPath := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(modelsPath, []byte(testutil.Models), 0o644))

	dbPath = filepath.Join(dir, "liveedit.db")
	configPath = filepath.Join(dir, "liveedit.yaml")
	cfg := fmt.Sprintf("database: %s\nmodels: %s\n", dbPath, modelsPath)
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))
	return configPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestImportAndBlocks(t *testing.T) {
	configPath, dbPath := writeConfig(t)

	objectPath := filepath.Join(filepath.Dir(configPath), "home.json")
	object := `{"model": "standard_page", "title": "Home", "slug": "home",
		"fields": {"body": ` + testutil.Body + `}}`
	require.NoError(t, os.WriteFile(objectPath, []byte(object), 0o644))

	out, err := execute(t, "--config", configPath, "import", objectPath)
	require.NoError(t, err)
	assert.Equal(t, "created object 1 (home)\n", out)

	out, err = execute(t, "--config", configPath, "blocks", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Home (/home/), object 1")
	assert.Contains(t, out, "\n  - t1 [text]\n")
	assert.Contains(t, out, "\n    - s1-t1 [text]\n")
	assert.Contains(t, out, "\n      - c1-col1-t2 [text]\n")
	assert.Contains(t, out, "revisions:\n  (none)")

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestImport_AssignsMissingIDs(t *testing.T) {
	configPath, dbPath := writeConfig(t)
	objectPath := filepath.Join(filepath.Dir(configPath), "footer.json")
	object := `{"model": "footer", "slug": "footer",
		"fields": {"content": [{"type": "text", "value": {"body": "<p>Hi</p>"}}]}}`
	require.NoError(t, os.WriteFile(objectPath, []byte(object), 0o644))

	_, err := execute(t, "--config", configPath, "import", objectPath)
	require.NoError(t, err)

	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	require.NoError(t, printBlocks(context.Background(), &buf, db, 1, 5, time.Now()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	last := lines[len(lines)-1]
	assert.True(t, strings.HasSuffix(last, "[text]"), "got %q", last)
	assert.NotContains(t, last, "-  [text]")
	assert.NotContains(t, buf.String(), "revisions:", "snippets have no revisions")
}

func TestImport_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		object string
		want   string
	}{
		{"unknown model", `{"model": "nope", "slug": "x"}`, "unknown model"},
		{"missing slug", `{"model": "footer"}`, "slug is required"},
		{"unknown field", `{"model": "footer", "slug": "x", "fields": {"body": []}}`, "no stream field"},
		{"invalid block", `{"model": "footer", "slug": "x", "fields": {"content": [{"type": "text", "id": "a", "value": {"body": ""}}]}}`, "field content"},
		{"duplicate ids", `{"model": "footer", "slug": "x", "fields": {"content": [
			{"type": "text", "id": "a", "value": {"body": "<p>1</p>"}},
			{"type": "text", "id": "a", "value": {"body": "<p>2</p>"}}]}}`, "field content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath, _ := writeConfig(t)
			objectPath := filepath.Join(filepath.Dir(configPath), "object.json")
			require.NoError(t, os.WriteFile(objectPath, []byte(tt.object), 0o644))

			_, err := execute(t, "--config", configPath, "import", objectPath)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBlocks_InvalidID(t *testing.T) {
	configPath, _ := writeConfig(t)
	_, err := execute(t, "--config", configPath, "blocks", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid object id")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "liveedit dev ("), "got %q", out)
}
