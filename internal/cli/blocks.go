package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jonny5532/wagtail-liveedit/pkg/document"
	"github.com/jonny5532/wagtail-liveedit/pkg/storage"
	"github.com/jonny5532/wagtail-liveedit/pkg/version"
)

// NewBlocksCommand creates the blocks command.
func NewBlocksCommand(rootOpts *RootOptions) *cobra.Command {
	var revisions int

	cmd := &cobra.Command{
		Use:   "blocks <object-id>",
		Short: "Print the block tree and recent revisions of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid object id %q", args[0])
			}
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			return printBlocks(cmd.Context(), cmd.OutOrStdout(), db, id, revisions, time.Now())
		},
	}

	cmd.Flags().IntVarP(&revisions, "revisions", "n", 5, "number of revisions to list")
	return cmd
}

func printBlocks(ctx context.Context, w io.Writer, db *storage.DB, objectID int64, limit int, now time.Time) error {
	objects := document.NewStore(db)
	obj, err := objects.Get(ctx, objectID)
	if err != nil {
		return err
	}
	entries, err := objects.Index(ctx, objectID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s (/%s/), object %d\n", obj.Title, obj.Slug, obj.ID)
	if !obj.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "updated %s\n", humanize.RelTime(obj.UpdatedAt, now, "ago", "from now"))
	}

	// Entries arrive in tree order, so a block's parent is always seen first
	depth := make(map[string]int)
	field := ""
	for _, e := range entries {
		if e.Field != field {
			field = e.Field
			fmt.Fprintf(w, "\n%s:\n", field)
		}
		d := 0
		if e.ParentID != "" {
			d = depth[e.ParentID] + 1
		}
		depth[e.BlockID] = d
		fmt.Fprintf(w, "%s- %s [%s]\n", strings.Repeat("  ", d+1), e.BlockID, e.BlockType)
	}

	if !obj.Draftable || limit <= 0 {
		return nil
	}
	revs, err := version.NewStore(db).List(ctx, objectID, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nrevisions:\n")
	for _, rev := range revs {
		state := "draft"
		if rev.Published() {
			state = "published"
		}
		fmt.Fprintf(w, "  #%d %-9s by %s, %s\n", rev.ID, state, rev.CreatedBy,
			humanize.RelTime(rev.CreatedAt, now, "ago", "from now"))
	}
	if len(revs) == 0 {
		fmt.Fprintf(w, "  (none)\n")
	}
	return nil
}
