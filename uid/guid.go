package uid

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewGUID returns a random (v4) UUID in its canonical hyphenated form.
func NewGUID() string {
	return uuid.NewString()
}

// NewOrderedGUID returns a time ordered (v7) UUID without hyphens, which
// keeps b-tree inserts local.
func NewOrderedGUID() string {
	u := uuid.Must(uuid.NewV7())
	return hex.EncodeToString(u[:])
}
