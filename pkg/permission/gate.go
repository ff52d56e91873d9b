// ABOUTME: Edit-authorization gate: object capability plus field whitelist
// ABOUTME: Every refusal is the same generic permission denial

package permission

import (
	"errors"
	"slices"
)

// ErrPermissionDenied is the single denial returned by the gate.
var ErrPermissionDenied = errors.New("permission denied")

// PermAccessAdmin is required to use any editing surface.
const PermAccessAdmin = "admin.access_admin"

// User is an authenticated editor.
type User struct {
	Username    string
	Active      bool
	Superuser   bool
	Permissions []string // "<app>.<codename>"
}

// HasPerm reports whether the user holds a permission. Active superusers
// hold every permission; inactive users hold none.
func (u *User) HasPerm(perm string) bool {
	if u == nil || !u.Active {
		return false
	}
	return u.Superuser || slices.Contains(u.Permissions, perm)
}

// CanAccessAdmin reports whether the user may use the editing surface.
func (u *User) CanAccessAdmin() bool {
	return u.HasPerm(PermAccessAdmin)
}

// Object is anything the gate can authorize edits on.
type Object interface {
	AppLabel() string
}

// Capable objects answer the capability question themselves.
type Capable interface {
	CanEdit(u *User) bool
}

// EditableFields reports which fields appear on an object's normal edit
// surface.
type EditableFields func(obj Object) []string

// Gate decides whether a user may edit a field of an object.
type Gate struct {
	fields EditableFields
}

// NewGate creates a gate using the given field whitelist.
func NewGate(fields EditableFields) *Gate {
	return &Gate{fields: fields}
}

// Authorize returns nil if user may edit field on obj, or
// ErrPermissionDenied.
func (g *Gate) Authorize(u *User, obj Object, field string) error {
	if !CanEditObject(u, obj) {
		return ErrPermissionDenied
	}
	if g.fields == nil || !slices.Contains(g.fields(obj), field) {
		return ErrPermissionDenied
	}
	return nil
}

// CanEditObject reports whether u may edit obj at all, regardless of field.
// Objects without their own capability check need "<app>.change".
func CanEditObject(u *User, obj Object) bool {
	if c, ok := obj.(Capable); ok {
		return c.CanEdit(u)
	}
	return u.HasPerm(obj.AppLabel() + ".change")
}

// Allowed is Authorize as a boolean.
func (g *Gate) Allowed(u *User, obj Object, field string) bool {
	return g.Authorize(u, obj, field) == nil
}
