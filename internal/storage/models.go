package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultUser is recorded when the caller supplies no identity.
const DefaultUser = "Гость"

// LikeContent is stored for likes that carry no text.
const LikeContent = "1"

const (
	TypeLike = "like"
	TypeNote = "note"
)

// RecordError is a rejection of a record write or lookup. Message is shown to the user as is.
type RecordError struct {
	Message string
}

func (e *RecordError) Error() string { return e.Message }

// Record is one public like or note. Records are append-only.
type Record struct {
	ID         int64     `json:"id"`
	User       string    `json:"user"`
	RecordType string    `json:"record_type"`
	Content    string    `json:"content"`
	WineID     string    `json:"wine_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter narrows ListRecords. Empty fields match everything.
type Filter struct {
	WineID     string
	RecordType string
	User       string
}

// Summary counts records of one wine.
type Summary struct {
	WineID    string `json:"wine_id"`
	LikeCount int    `json:"like_count"`
	NoteCount int    `json:"note_count"`
}

// Checker confirms that a wine id exists in the catalog.
type Checker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// DefaultCatalogTable names the catalog in messages when the checker does not.
const DefaultCatalogTable = "wine_cards_wide"

// tableNamer is implemented by checkers that know their catalog table.
type tableNamer interface {
	Table() string
}

func catalogTable(c Checker) string {
	if n, ok := c.(tableNamer); ok && n.Table() != "" {
		return n.Table()
	}
	return DefaultCatalogTable
}
