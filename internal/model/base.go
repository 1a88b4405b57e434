package model

import (
	"github.com/google/uuid"
)

// Owner is the authenticated referring account that owns drafts and consults.
type Owner struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// SortOrder controls recency ordering of list projections.
type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
)

// ParseSortOrder falls back to newest-first for anything it does not recognise.
func ParseSortOrder(s string) SortOrder {
	if SortOrder(s) == SortOldest {
		return SortOldest
	}
	return SortNewest
}
