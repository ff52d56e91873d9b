package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonny5532/wagtail-liveedit/pkg/block"
	"github.com/jonny5532/wagtail-liveedit/pkg/document"
	"github.com/jonny5532/wagtail-liveedit/pkg/schema"
	"github.com/jonny5532/wagtail-liveedit/pkg/storage"
)

// objectFile is the JSON layout accepted by import.
type objectFile struct {
	Model  string                     `json:"model"`
	Title  string                     `json:"title"`
	Slug   string                     `json:"slug"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <object.json>",
		Short: "Create an object from a JSON file",
		Long: `Create an object from a JSON file of the form

  {"model": "standard_page", "title": "Home", "slug": "home",
   "fields": {"body": [{"type": "text", "id": "t1", "value": {...}}]}}

Every field is validated against the content model. Blocks without an id
are given one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			reg, err := schema.Load(cfg.Models)
			if err != nil {
				return fmt.Errorf("load models: %w", err)
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			obj, err := importObject(cmd.Context(), db, reg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created object %d (%s)\n", obj.ID, obj.Slug)
			return nil
		},
	}
	return cmd
}

func importObject(ctx context.Context, db *storage.DB, reg *schema.Registry, path string) (*document.Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var in objectFile
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	model, ok := reg.ModelByName(in.Model)
	if !ok {
		return nil, fmt.Errorf("%s: unknown model %q", path, in.Model)
	}
	if in.Slug == "" {
		return nil, fmt.Errorf("%s: slug is required", path)
	}

	obj := &document.Object{
		ContentTypeID: model.ContentTypeID,
		Title:         in.Title,
		Slug:          in.Slug,
		Draftable:     model.Draftable(),
		Fields:        make(map[string]*block.Sequence),
	}
	for name, raw := range in.Fields {
		def, ok := model.Field(name)
		if !ok || !def.Kind.IsContainer() {
			return nil, fmt.Errorf("%s: %s has no stream field %q", path, model.Name, name)
		}
		seq, err := block.ParseStream(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: field %s: %w", path, name, err)
		}
		block.Walk(seq, func(_ *block.Sequence, _ int, n *block.Node) bool {
			if n.ID == "" {
				n.ID = block.NewID()
			}
			return true
		})
		cleaned, err := def.Clean(seq)
		if err != nil {
			return nil, fmt.Errorf("%s: field %s: %w", path, name, err)
		}
		clean, ok := cleaned.(*block.Sequence)
		if !ok {
			return nil, fmt.Errorf("%s: field %s is not a sequence", path, name)
		}
		if err := block.CheckUnique(clean); err != nil {
			return nil, fmt.Errorf("%s: field %s: %w", path, name, err)
		}
		obj.Fields[name] = clean
	}

	if err := document.NewStore(db).Create(ctx, obj); err != nil {
		return nil, err
	}
	return obj, nil
}
