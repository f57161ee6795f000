package guard

import (
	"errors"
	"fmt"
	"strings"

	"serenade/pkg/models"
)

// Rejection categories surfaced to callers. Each upload failure maps to
// exactly one of these (or one of the structured errors below) so the UI
// can show a specific message instead of a generic failure.
var (
	// ErrInvalidFormat rejects files whose extension or MIME type is not
	// on the allow-list.
	ErrInvalidFormat = errors.New("unsupported audio format")
	// ErrTooLarge rejects files over the configured size ceiling.
	ErrTooLarge = errors.New("file exceeds maximum upload size")
	// ErrEmpty rejects zero-byte files.
	ErrEmpty = errors.New("file is empty")
	// ErrQuotaExceeded rejects files that would not fit in the remaining
	// storage headroom.
	ErrQuotaExceeded = errors.New("not enough storage space")
	// ErrCorruptFile rejects files that failed the playability probe.
	ErrCorruptFile = errors.New("file is not playable")
)

// DuplicateReason names which rule matched an existing song
type DuplicateReason string

const (
	// DuplicateMetadata: normalized title and artist both match.
	DuplicateMetadata DuplicateReason = "metadata"
	// DuplicateFileIdentity: identical byte size plus filename/title overlap.
	DuplicateFileIdentity DuplicateReason = "file-identity"
)

// DuplicateError reports that an upload matched a song already in the
// library. Existing carries the matched song so callers can offer to reuse
// it instead of storing a second copy.
type DuplicateError struct {
	Existing *models.Song
	Reason   DuplicateReason
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("same song already exists: %q by %s (%s match)", e.Existing.Title, e.Existing.Artist, e.Reason)
}

// AlreadyInPlaylistError reports that a song is already a member of every
// playlist it was asked to join.
type AlreadyInPlaylistError struct {
	SongID      string
	PlaylistIDs []string
}

func (e *AlreadyInPlaylistError) Error() string {
	return fmt.Sprintf("song %s is already in playlists %s", e.SongID, strings.Join(e.PlaylistIDs, ", "))
}

// FieldError reports one invalid upload field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects all per-field problems of one upload so they can
// be surfaced together.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid upload"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid upload: " + strings.Join(parts, "; ")
}
