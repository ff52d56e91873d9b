// ABOUTME: Object storage on SQLite with a block index refreshed on save
// ABOUTME: The index is built from each block's prepared value

package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jonny5532/wagtail-liveedit/pkg/block"
	"github.com/jonny5532/wagtail-liveedit/pkg/storage"
)

// Store manages editable objects
type Store struct {
	db *storage.DB
}

// NewStore creates an object store on an open database
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

const objectColumns = `id, content_type_id, title, slug, draftable, content,
	live_revision_id, has_unpublished_changes, last_published_at, updated_at`

// Create inserts a new object and assigns its ID
func (s *Store) Create(ctx context.Context, obj *Object) error {
	content, err := EncodeContent(obj.Fields)
	if err != nil {
		return err
	}
	if obj.UpdatedAt.IsZero() {
		obj.UpdatedAt = time.Now().UTC()
	}

	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO objects
			(content_type_id, title, slug, draftable, content, live_revision_id,
			 has_unpublished_changes, last_published_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			obj.ContentTypeID, obj.Title, obj.Slug, obj.Draftable, string(content),
			nullID(obj.LiveRevisionID), obj.HasUnpublishedChanges,
			storage.TimeValue(obj.LastPublishedAt), storage.TimeValue(obj.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert object: %w", err)
		}
		if obj.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		return reindex(ctx, tx, obj)
	})
}

// Get loads an object by ID
func (s *Store) Get(ctx context.Context, id int64) (*Object, error) {
	row := s.db.SQL().QueryRowContext(ctx, "SELECT "+objectColumns+" FROM objects WHERE id = ?", id)
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return obj, err
}

// GetBySlug loads an object by slug
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Object, error) {
	row := s.db.SQL().QueryRowContext(ctx, "SELECT "+objectColumns+" FROM objects WHERE slug = ? ORDER BY id LIMIT 1", slug)
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return obj, err
}

// Save writes the object's live state and refreshes its block index
func (s *Store) Save(ctx context.Context, obj *Object) error {
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		return SaveTx(ctx, tx, obj)
	})
}

// SaveTx is Save inside a caller-owned transaction
func SaveTx(ctx context.Context, tx *sql.Tx, obj *Object) error {
	content, err := EncodeContent(obj.Fields)
	if err != nil {
		return err
	}
	obj.UpdatedAt = time.Now().UTC()

	res, err := tx.ExecContext(ctx, `UPDATE objects SET
		content_type_id = ?, title = ?, slug = ?, draftable = ?, content = ?,
		live_revision_id = ?, has_unpublished_changes = ?, last_published_at = ?,
		updated_at = ?
		WHERE id = ?`,
		obj.ContentTypeID, obj.Title, obj.Slug, obj.Draftable, string(content),
		nullID(obj.LiveRevisionID), obj.HasUnpublishedChanges,
		storage.TimeValue(obj.LastPublishedAt), storage.TimeValue(obj.UpdatedAt), obj.ID)
	if err != nil {
		return fmt.Errorf("update object %d: %w", obj.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, obj.ID)
	}
	return reindex(ctx, tx, obj)
}

// List returns object summaries, optionally filtered by content type (0 for
// all)
func (s *Store) List(ctx context.Context, contentTypeID int64) ([]*Summary, error) {
	rows, err := s.db.SQL().QueryContext(ctx, `SELECT id, content_type_id, title, slug,
		has_unpublished_changes, updated_at FROM objects
		WHERE ? = 0 OR content_type_id = ? ORDER BY id`, contentTypeID, contentTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Summary
	for rows.Next() {
		var sum Summary
		var updated sql.NullInt64
		if err := rows.Scan(&sum.ID, &sum.ContentTypeID, &sum.Title, &sum.Slug,
			&sum.HasUnpublishedChanges, &updated); err != nil {
			return nil, err
		}
		sum.UpdatedAt = storage.ParseTime(updated)
		out = append(out, &sum)
	}
	return out, rows.Err()
}

// FindBlock returns the index entries for a block id across all objects
func (s *Store) FindBlock(ctx context.Context, blockID string) ([]*IndexEntry, error) {
	rows, err := s.db.SQL().QueryContext(ctx, `SELECT object_id, field, block_id,
		block_type, parent_id, position, prepared FROM block_index
		WHERE block_id = ? ORDER BY object_id, field`, blockID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Index returns the block index entries of one object in tree order
func (s *Store) Index(ctx context.Context, objectID int64) ([]*IndexEntry, error) {
	rows, err := s.db.SQL().QueryContext(ctx, `SELECT object_id, field, block_id,
		block_type, parent_id, position, prepared FROM block_index
		WHERE object_id = ? ORDER BY field, rowid`, objectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// reindex rebuilds the block index rows of obj. Every block must carry a
// prepared value.
func reindex(ctx context.Context, tx *sql.Tx, obj *Object) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM block_index WHERE object_id = ?", obj.ID); err != nil {
		return fmt.Errorf("clear block index: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO block_index
		(object_id, field, block_id, block_type, parent_id, position, prepared)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	names := make([]string, 0, len(obj.Fields))
	for name := range obj.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var werr error
		block.Walk(obj.Fields[name], func(parent *block.Sequence, i int, n *block.Node) bool {
			raw := n.Raw()
			if raw == nil {
				werr = fmt.Errorf("index %s/%s: block %s has no prepared value", name, n.Type, n.ID)
				return false
			}
			parentID := ""
			if owner := parent.Owner(); owner != nil {
				parentID = owner.ID
			}
			_, werr = stmt.ExecContext(ctx, obj.ID, name, n.ID, n.Type, parentID, i, string(raw))
			return werr == nil
		})
		if werr != nil {
			return werr
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (*Object, error) {
	var obj Object
	var content string
	var live, published, updated sql.NullInt64
	err := row.Scan(&obj.ID, &obj.ContentTypeID, &obj.Title, &obj.Slug, &obj.Draftable,
		&content, &live, &obj.HasUnpublishedChanges, &published, &updated)
	if err != nil {
		return nil, err
	}

	obj.Fields, err = DecodeContent([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", obj.ID, err)
	}
	obj.LiveRevisionID = live.Int64
	obj.LastPublishedAt = storage.ParseTime(published)
	obj.UpdatedAt = storage.ParseTime(updated)
	return &obj, nil
}

func scanEntries(rows *sql.Rows) ([]*IndexEntry, error) {
	var out []*IndexEntry
	for rows.Next() {
		var e IndexEntry
		var prepared string
		if err := rows.Scan(&e.ObjectID, &e.Field, &e.BlockID, &e.BlockType,
			&e.ParentID, &e.Position, &prepared); err != nil {
			return nil, err
		}
		e.Prepared = []byte(prepared)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
