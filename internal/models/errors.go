package models

import "errors"

// ErrNotFound is wrapped by repository lookups when the row does not exist.
var ErrNotFound = errors.New("not found")
