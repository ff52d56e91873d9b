// ABOUTME: Decoding of overlay postbacks into typed requests
// ABOUTME: Any missing or unparseable field is a malformed request

package overlay

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/schema"

	"github.com/jonny5532/wagtail-liveedit/pkg/block"
)

// ErrMalformed marks a request the client built incorrectly.
var ErrMalformed = errors.New("malformed request")

var decoder = newDecoder()

func newDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// Target names a stream field of an object.
type Target struct {
	ContentTypeID int64
	ObjectID      int64
	ObjectField   string
}

// ActionRequest is a reorder postback.
type ActionRequest struct {
	ContentTypeID int64  `schema:"content_type_id,required"`
	ObjectID      int64  `schema:"object_id,required"`
	ObjectField   string `schema:"object_field,required"`
	ID            string `schema:"id,required"`
	Action        string `schema:"action,required"`
	RedirectURL   string `schema:"redirect_url,required"`
}

// Target returns the addressed stream field.
func (r *ActionRequest) Target() Target {
	return Target{ContentTypeID: r.ContentTypeID, ObjectID: r.ObjectID, ObjectField: r.ObjectField}
}

// EditRequest addresses one block for editing or deletion.
type EditRequest struct {
	ContentTypeID int64  `schema:"content_type_id,required"`
	ObjectID      int64  `schema:"object_id,required"`
	ObjectField   string `schema:"object_field,required"`
	ID            string `schema:"id,required"`
}

// Target returns the addressed stream field.
func (r *EditRequest) Target() Target {
	return Target{ContentTypeID: r.ContentTypeID, ObjectID: r.ObjectID, ObjectField: r.ObjectField}
}

// AppendRequest addresses an insertion point. An empty ID means the head of
// the top-level stream.
type AppendRequest struct {
	ContentTypeID int64  `schema:"content_type_id,required"`
	ObjectID      int64  `schema:"object_id,required"`
	ObjectField   string `schema:"object_field,required"`
	ID            string `schema:"id"`
}

// Target returns the addressed stream field.
func (r *AppendRequest) Target() Target {
	return Target{ContentTypeID: r.ContentTypeID, ObjectID: r.ObjectID, ObjectField: r.ObjectField}
}

// DecodeAction decodes and validates a reorder postback.
func DecodeAction(values url.Values) (*ActionRequest, error) {
	var req ActionRequest
	if err := decode(&req, values); err != nil {
		return nil, err
	}
	if _, err := block.ParseAction(req.Action); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !isLocalPath(req.RedirectURL) {
		return nil, fmt.Errorf("%w: redirect_url must be a local path", ErrMalformed)
	}
	return &req, nil
}

// DecodeEdit decodes the query of an edit-block request.
func DecodeEdit(values url.Values) (*EditRequest, error) {
	var req EditRequest
	if err := decode(&req, values); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeAppend decodes the query of an append-block request.
func DecodeAppend(values url.Values) (*AppendRequest, error) {
	var req AppendRequest
	if err := decode(&req, values); err != nil {
		return nil, err
	}
	return &req, nil
}

func decode(dst any, values url.Values) error {
	if err := decoder.Decode(dst, values); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func isLocalPath(u string) bool {
	return strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") && !strings.HasPrefix(u, "/\\")
}
