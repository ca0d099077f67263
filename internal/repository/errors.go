package repository

import "errors"

// ErrNotFound is returned by repository methods when the requested record
// does not exist in the database. Callers should check for this error
// explicitly using errors.Is to distinguish missing records from other
// database errors.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when an insert or update violates a unique
// constraint, for example registering a mapping whose public name is
// already taken.
var ErrConflict = errors.New("record already exists")
