// ABOUTME: Revision store: create, update in place and publish snapshots
// ABOUTME: Publishing copies content to the live object in one transaction

package version

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonny5532/wagtail-liveedit/pkg/document"
	"github.com/jonny5532/wagtail-liveedit/pkg/storage"
)

// Store manages object revisions
type Store struct {
	db *storage.DB
}

// NewStore creates a revision store on an open database
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

const revisionColumns = "id, object_id, content, created_by, created_at, published_at"

// Create stores a new unpublished revision and assigns its ID
func (s *Store) Create(ctx context.Context, rev *Revision) error {
	content, err := document.EncodeContent(rev.Fields)
	if err != nil {
		return err
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.SQL().ExecContext(ctx, `INSERT INTO revisions
		(object_id, content, created_by, created_at, published_at) VALUES (?, ?, ?, ?, ?)`,
		rev.ObjectID, string(content), rev.CreatedBy,
		storage.TimeValue(rev.CreatedAt), storage.TimeValue(rev.PublishedAt))
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	rev.ID, err = res.LastInsertId()
	return err
}

// Get retrieves a specific revision
func (s *Store) Get(ctx context.Context, id int64) (*Revision, error) {
	row := s.db.SQL().QueryRowContext(ctx, "SELECT "+revisionColumns+" FROM revisions WHERE id = ?", id)
	rev, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return rev, err
}

// Latest returns the most recent revision of an object
func (s *Store) Latest(ctx context.Context, objectID int64) (*Revision, error) {
	row := s.db.SQL().QueryRowContext(ctx, "SELECT "+revisionColumns+
		" FROM revisions WHERE object_id = ? ORDER BY id DESC LIMIT 1", objectID)
	rev, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: object %d has no revisions", ErrNotFound, objectID)
	}
	return rev, err
}

// Count returns the number of revisions of an object
func (s *Store) Count(ctx context.Context, objectID int64) (int, error) {
	var n int
	err := s.db.SQL().QueryRowContext(ctx, "SELECT COUNT(*) FROM revisions WHERE object_id = ?", objectID).Scan(&n)
	return n, err
}

// List returns revisions of an object, newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, objectID int64, limit int) ([]*Revision, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.SQL().QueryContext(ctx, "SELECT "+revisionColumns+
		" FROM revisions WHERE object_id = ? ORDER BY id DESC LIMIT ?", objectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

// UpdateContent overwrites the content of an existing revision in place
func (s *Store) UpdateContent(ctx context.Context, rev *Revision) error {
	content, err := document.EncodeContent(rev.Fields)
	if err != nil {
		return err
	}
	res, err := s.db.SQL().ExecContext(ctx, "UPDATE revisions SET content = ? WHERE id = ?", string(content), rev.ID)
	if err != nil {
		return fmt.Errorf("update revision %d: %w", rev.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, rev.ID)
	}
	return nil
}

// Publish makes the revision live: its content replaces the object's live
// content and the object's draft flag is cleared.
func (s *Store) Publish(ctx context.Context, rev *Revision, obj *document.Object, now time.Time) error {
	live, err := rev.AsObject(obj)
	if err != nil {
		return err
	}
	live.LiveRevisionID = rev.ID
	live.LastPublishedAt = now
	live.HasUnpublishedChanges = false

	err = s.db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE revisions SET published_at = ? WHERE id = ?",
			storage.TimeValue(now), rev.ID); err != nil {
			return fmt.Errorf("mark revision %d published: %w", rev.ID, err)
		}
		return document.SaveTx(ctx, tx, live)
	})
	if err != nil {
		return err
	}

	rev.PublishedAt = now
	*obj = *live
	return nil
}

// SaveDraft records obj's current content as an unpublished revision and
// flags the object as having unpublished changes. The live content is left
// as it was.
func (s *Store) SaveDraft(ctx context.Context, obj *document.Object, user string, now time.Time) (*Revision, error) {
	rev := &Revision{ObjectID: obj.ID, Fields: obj.Fields, CreatedBy: user, CreatedAt: now}
	if err := s.Create(ctx, rev); err != nil {
		return nil, err
	}
	if _, err := s.db.SQL().ExecContext(ctx,
		"UPDATE objects SET has_unpublished_changes = 1 WHERE id = ?", obj.ID); err != nil {
		return nil, fmt.Errorf("flag draft on object %d: %w", obj.ID, err)
	}
	obj.HasUnpublishedChanges = true
	return rev, nil
}

func scanRevision(row interface{ Scan(...any) error }) (*Revision, error) {
	var rev Revision
	var content string
	var created, published sql.NullInt64
	if err := row.Scan(&rev.ID, &rev.ObjectID, &content, &rev.CreatedBy, &created, &published); err != nil {
		return nil, err
	}
	fields, err := document.DecodeContent([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("revision %d: %w", rev.ID, err)
	}
	rev.Fields = fields
	rev.CreatedAt = storage.ParseTime(created)
	rev.PublishedAt = storage.ParseTime(published)
	return &rev, nil
}
