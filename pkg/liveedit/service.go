// ABOUTME: Orchestrates overlay operations: authorize, resolve the edit target, mutate, persist
// ABOUTME: Shared by the HTTP endpoints and the gRPC service

package liveedit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jonny5532/wagtail-liveedit/internal/logger"
	"github.com/jonny5532/wagtail-liveedit/pkg/block"
	"github.com/jonny5532/wagtail-liveedit/pkg/document"
	"github.com/jonny5532/wagtail-liveedit/pkg/overlay"
	"github.com/jonny5532/wagtail-liveedit/pkg/permission"
	"github.com/jonny5532/wagtail-liveedit/pkg/revision"
	"github.com/jonny5532/wagtail-liveedit/pkg/schema"
	"github.com/jonny5532/wagtail-liveedit/pkg/version"
)

// Errors returned by the service. Validation failures are *schema.ValidationError.
var (
	ErrMalformed        = overlay.ErrMalformed
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = permission.ErrPermissionDenied
)

// Models resolves content types. The registry may be swapped at runtime.
type Models interface {
	Model(contentTypeID int64) (*schema.Model, bool)
}

// Recorder receives operation counts.
type Recorder interface {
	RecordMutation(op, status string)
	RecordSave(strategy string)
	RecordDenial()
}

type nopRecorder struct{}

func (nopRecorder) RecordMutation(string, string) {}
func (nopRecorder) RecordSave(string)             {}
func (nopRecorder) RecordDenial()                 {}

// Config holds the collaborators of a Service.
type Config struct {
	Models    Models
	Objects   *document.Store
	Revisions *version.Store
	Enabler   *overlay.Enabler // nil enables every path
	AssetBase string           // URL prefix of the overlay assets
	Logger    *logger.Logger
	Metrics   Recorder
	Now       func() time.Time
}

// Service implements the overlay operations.
type Service struct {
	models    Models
	objects   *document.Store
	revisions *version.Store
	enabler   *overlay.Enabler
	assetBase string
	gate      *permission.Gate
	resolver  *revision.Resolver
	renderer  *overlay.Renderer
	log       *logger.Logger
	metrics   Recorder
	now       func() time.Time

	// mu serializes read-modify-write cycles within the process
	mu sync.Mutex
}

// New creates a service.
func New(cfg Config) *Service {
	s := &Service{
		models:    cfg.Models,
		objects:   cfg.Objects,
		revisions: cfg.Revisions,
		enabler:   cfg.Enabler,
		assetBase: cfg.AssetBase,
		gate:      permission.NewGate(editableFields),
		resolver:  revision.NewResolver(cfg.Objects, cfg.Revisions),
		renderer:  overlay.NewRenderer(),
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	if s.enabler == nil {
		s.enabler, _ = overlay.NewEnabler(nil)
	}
	if s.assetBase == "" {
		s.assetBase = "/static/liveedit/"
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.Component("liveedit")
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Result is the outcome of a submission.
type Result struct {
	JumpToID string            // Block the overlay scrolls to after reloading
	Strategy revision.Strategy // How the edit was persisted, empty if nothing was saved
	Panel    *overlay.Panel    // Re-rendered panel of a rejected submission
}

// subject adapts an object and its model for the gate.
type subject struct {
	obj   *document.Object
	model *schema.Model
}

func (s subject) AppLabel() string { return s.model.App }

func (s subject) EditableFields() []string { return s.model.EditableFields() }

// pageSubject carries the page-level capability check.
type pageSubject struct{ subject }

func (p pageSubject) CanEdit(u *permission.User) bool {
	return u.HasPerm(p.model.App + ".change_page")
}

func newSubject(obj *document.Object, model *schema.Model) permission.Object {
	s := subject{obj: obj, model: model}
	if model.Draftable() {
		return pageSubject{s}
	}
	return s
}

func editableFields(obj permission.Object) []string {
	if f, ok := obj.(interface{ EditableFields() []string }); ok {
		return f.EditableFields()
	}
	return nil
}

// session is the request-scoped state shared by every operation.
type session struct {
	model  *schema.Model
	field  *schema.Def
	name   string
	target *revision.EditTarget
	seq    *block.Sequence
	now    time.Time
}

func (s *Service) prepare(ctx context.Context, user *permission.User, t overlay.Target) (*session, error) {
	if !user.CanAccessAdmin() {
		s.metrics.RecordDenial()
		return nil, ErrPermissionDenied
	}

	model, ok := s.models.Model(t.ContentTypeID)
	if !ok {
		return nil, fmt.Errorf("%w: content type %d", ErrNotFound, t.ContentTypeID)
	}
	obj, err := s.objects.Get(ctx, t.ObjectID)
	if errors.Is(err, document.ErrNotFound) {
		return nil, fmt.Errorf("%w: object %d", ErrNotFound, t.ObjectID)
	}
	if err != nil {
		return nil, err
	}
	if obj.ContentTypeID != model.ContentTypeID {
		return nil, fmt.Errorf("%w: object %d is not a %s", ErrNotFound, obj.ID, model.Name)
	}

	if err := s.gate.Authorize(user, newSubject(obj, model), t.ObjectField); err != nil {
		s.metrics.RecordDenial()
		s.log.Warn("edit denied").
			Str("user", user.Username).
			Int64("object_id", obj.ID).
			Str("field", t.ObjectField).
			Send()
		return nil, err
	}

	field, ok := model.Field(t.ObjectField)
	if !ok || !field.Kind.IsContainer() {
		return nil, fmt.Errorf("%w: %s is not a stream field", ErrMalformed, t.ObjectField)
	}

	now := s.now()
	target, err := s.resolver.Resolve(ctx, obj, user.Username, now)
	if err != nil {
		return nil, err
	}
	return &session{
		model:  model,
		field:  field,
		name:   t.ObjectField,
		target: target,
		seq:    target.Object.Field(t.ObjectField),
		now:    now,
	}, nil
}

func (s *Service) locate(sess *session, id string) (*block.LocateResult, *schema.Def, error) {
	loc, err := block.Locate(sess.seq, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: block %s", ErrNotFound, id)
	}
	def, _, err := schema.Lookup(sess.field, sess.seq, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return loc, def, nil
}

// apply persists the session's target object.
func (s *Service) apply(ctx context.Context, op string, sess *session, blockID string) error {
	err := s.resolver.Apply(ctx, sess.target, sess.now)
	s.log.LogMutation(op, sess.target.Object.ID, sess.name, blockID, string(sess.target.Strategy), err)
	if err != nil {
		s.metrics.RecordMutation(op, "error")
		return fmt.Errorf("save object %d: %w", sess.target.Object.ID, err)
	}
	s.metrics.RecordMutation(op, "ok")
	s.metrics.RecordSave(string(sess.target.Strategy))
	return nil
}

// Action moves a block one place among its siblings. A block already at the
// edge is left alone and nothing is saved.
func (s *Service) Action(ctx context.Context, user *permission.User, req *overlay.ActionRequest) (*Result, error) {
	action, err := block.ParseAction(req.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.prepare(ctx, user, req.Target())
	if err != nil {
		return nil, err
	}
	if _, err := block.Locate(sess.seq, req.ID); err != nil {
		return nil, fmt.Errorf("%w: block %s", ErrNotFound, req.ID)
	}
	if !block.Move(sess.seq, req.ID, action) {
		s.metrics.RecordMutation("move", "noop")
		return &Result{JumpToID: req.ID}, nil
	}
	if err := s.apply(ctx, "move", sess, req.ID); err != nil {
		return nil, err
	}
	return &Result{JumpToID: req.ID, Strategy: sess.target.Strategy}, nil
}

// EditForm returns the edit panel for a block.
func (s *Service) EditForm(ctx context.Context, user *permission.User, req *overlay.EditRequest) (*overlay.Panel, error) {
	sess, err := s.prepare(ctx, user, req.Target())
	if err != nil {
		return nil, err
	}
	loc, def, err := s.locate(sess, req.ID)
	if err != nil {
		return nil, err
	}
	return s.panel(ctx, sess, def, req.ID, loc.Value, nil), nil
}

func (s *Service) panel(ctx context.Context, sess *session, def *schema.Def, id string, v block.Value, verr error) *overlay.Panel {
	p := overlay.NewPanel(def, id, v, verr)
	p.CanDelete = id != ""
	if !sess.target.Object.Draftable {
		return p
	}
	rev, err := s.revisions.Latest(ctx, sess.target.Object.ID)
	switch {
	case errors.Is(err, version.ErrNotFound):
		p.SetHistory("", time.Time{}, sess.now)
	case err != nil:
		s.log.Warn("load revision history").Err(err).Int64("object_id", sess.target.Object.ID).Send()
	default:
		p.SetHistory(rev.CreatedBy, rev.CreatedAt, sess.now)
	}
	return p
}

// EditBlock applies a submitted edit form. A form with a non-empty "delete"
// value removes the block instead. A rejected submission returns the re-rendered panel
// along with the *schema.ValidationError.
func (s *Service) EditBlock(ctx context.Context, user *permission.User, req *overlay.EditRequest, form url.Values) (*Result, error) {
	if form.Get("delete") != "" {
		return s.DeleteBlock(ctx, user, req)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.prepare(ctx, user, req.Target())
	if err != nil {
		return nil, err
	}
	loc, def, err := s.locate(sess, req.ID)
	if err != nil {
		return nil, err
	}

	raw, err := def.ValueFromForm(form, schema.FormPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	value, err := def.Clean(raw)
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		s.metrics.RecordMutation("edit", "invalid")
		return &Result{Panel: s.panel(ctx, sess, def, req.ID, raw, verr)}, err
	}
	if err != nil {
		return nil, err
	}

	if err := loc.Set(value); err != nil {
		return nil, err
	}
	if err := block.CheckUnique(sess.seq); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := s.apply(ctx, "edit", sess, req.ID); err != nil {
		return nil, err
	}
	return &Result{JumpToID: req.ID, Strategy: sess.target.Strategy}, nil
}

// DeleteBlock removes a block from its parent sequence.
func (s *Service) DeleteBlock(ctx context.Context, user *permission.User, req *overlay.EditRequest) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.prepare(ctx, user, req.Target())
	if err != nil {
		return nil, err
	}
	loc, err := block.Locate(sess.seq, req.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: block %s", ErrNotFound, req.ID)
	}
	if err := block.Delete(loc.Parent, req.ID); err != nil {
		return nil, err
	}
	if err := s.apply(ctx, "delete", sess, req.ID); err != nil {
		return nil, err
	}
	return &Result{Strategy: sess.target.Strategy}, nil
}

// appendParent resolves the sequence new blocks go into: the field itself
// when no anchor is given, otherwise the sequence holding the anchor.
func (s *Service) appendParent(sess *session, anchor string) (*schema.Def, *block.Sequence, error) {
	if anchor == "" {
		return sess.field, sess.seq, nil
	}
	loc, err := block.Locate(sess.seq, anchor)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: block %s", ErrNotFound, anchor)
	}
	_, parent, err := schema.Lookup(sess.field, sess.seq, anchor)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return parent, loc.Parent, nil
}

// AppendForm returns a blank panel for the sequence an insertion goes into.
func (s *Service) AppendForm(ctx context.Context, user *permission.User, req *overlay.AppendRequest) (*overlay.Panel, error) {
	sess, err := s.prepare(ctx, user, req.Target())
	if err != nil {
		return nil, err
	}
	def, _, err := s.appendParent(sess, req.ID)
	if err != nil {
		return nil, err
	}
	return s.panel(ctx, sess, def, "", def.Blank(), nil), nil
}

// AppendBlocks inserts the blocks of a submitted append form after the
// anchor, or at the head of the field when there is none.
func (s *Service) AppendBlocks(ctx context.Context, user *permission.User, req *overlay.AppendRequest, form url.Values) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.prepare(ctx, user, req.Target())
	if err != nil {
		return nil, err
	}
	def, parent, err := s.appendParent(sess, req.ID)
	if err != nil {
		return nil, err
	}

	raw, err := def.ValueFromForm(form, schema.FormPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	res, err := s.insert(ctx, sess, def, parent, req.ID, raw)
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return &Result{Panel: s.panel(ctx, sess, def, "", raw, verr)}, err
	}
	return res, err
}

// InsertBlocks inserts blocks given in stored JSON form.
func (s *Service) InsertBlocks(ctx context.Context, user *permission.User, t overlay.Target, anchor string, data []byte) (*Result, error) {
	raw, err := block.ParseStream(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.prepare(ctx, user, t)
	if err != nil {
		return nil, err
	}
	def, parent, err := s.appendParent(sess, anchor)
	if err != nil {
		return nil, err
	}
	return s.insert(ctx, sess, def, parent, anchor, raw)
}

// insert validates new blocks against the parent definition, gives every
// one of them a fresh id and splices them in after anchor.
func (s *Service) insert(ctx context.Context, sess *session, def *schema.Def, parent *block.Sequence, anchor string, raw block.Value) (*Result, error) {
	value, err := def.Clean(raw)
	if err != nil {
		s.metrics.RecordMutation("append", "invalid")
		return nil, err
	}
	seq, ok := value.(*block.Sequence)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not hold blocks", ErrMalformed, def.Name)
	}

	block.Walk(seq, func(_ *block.Sequence, _ int, n *block.Node) bool {
		n.ID = block.NewID()
		return true
	})
	if err := block.InsertAfter(parent, anchor, seq.Nodes); err != nil {
		if errors.Is(err, block.ErrAnchorNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, err
	}
	if err := s.apply(ctx, "append", sess, anchor); err != nil {
		return nil, err
	}
	return &Result{Strategy: sess.target.Strategy}, nil
}

// BlockInfo describes a located block.
type BlockInfo struct {
	ID       string
	Type     string
	Value    any
	ParentID string // Owner of the containing sequence, empty at top level
	Index    int
	Siblings int
}

// Block looks up a block in the copy of the object an edit would target.
func (s *Service) Block(ctx context.Context, user *permission.User, t overlay.Target, id string) (*BlockInfo, error) {
	sess, err := s.prepare(ctx, user, t)
	if err != nil {
		return nil, err
	}
	loc, err := block.Locate(sess.seq, id)
	if err != nil {
		return nil, fmt.Errorf("%w: block %s", ErrNotFound, id)
	}
	info := &BlockInfo{
		ID:       id,
		Type:     loc.Type,
		Value:    block.Interface(loc.Value),
		Index:    loc.Index,
		Siblings: loc.Parent.Len(),
	}
	if owner := loc.Parent.Owner(); owner != nil {
		info.ParentID = owner.ID
	}
	return info, nil
}
