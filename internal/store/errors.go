package store

import "errors"

// ErrNotFound is returned when a record does not exist or is not owned
// by the requesting user. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("already exists")

// ErrUnknownAttribute is returned when a tag or ingredient ID referenced by
// a recipe write does not exist within the owner's scope.
var ErrUnknownAttribute = errors.New("unknown tag or ingredient")
