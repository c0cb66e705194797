package id

import "github.com/google/uuid"

// New returns an opaque identifier for a render job.
func New() string {
	return uuid.NewString()
}
