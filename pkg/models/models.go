package models

import "time"

// Member identifies which of the two household members created a record.
type Member string

const (
	MemberYou Member = "you"
	MemberHer Member = "her"
)

// Valid reports whether m is one of the two known members.
func (m Member) Valid() bool {
	return m == MemberYou || m == MemberHer
}

// Song represents a stored audio asset: metadata plus the raw payload bytes.
// FileData is the single durable source of truth; any playable handle derived
// from it is transient and regenerable.
type Song struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Album       string    `json:"album,omitempty"`
	Genre       string    `json:"genre,omitempty"`
	Year        int       `json:"year,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Duration    float64   `json:"duration,omitempty"` // in seconds
	FileData    []byte    `json:"-"`                  // raw audio payload, never exposed to clients
	FileType    string    `json:"fileType"`           // MIME type
	FileSize    int64     `json:"fileSize"`           // original file size in bytes
	CoverImage  string    `json:"coverImage,omitempty"` // base64 data URL
	UploadedBy  Member    `json:"uploadedBy"`
	UploadedAt  time.Time `json:"uploadedAt"`
	PlaylistIDs []string  `json:"playlistIds"`
}

// PlaylistCover is a tagged choice of cover representation. Exactly one of
// the three fields should be populated.
type PlaylistCover struct {
	Emoji string `json:"emoji,omitempty"`
	Color string `json:"color,omitempty"` // hex color, e.g. "#F4A6C1"
	Image string `json:"image,omitempty"` // base64 data URL
}

// Valid reports whether exactly one representation is set.
func (c PlaylistCover) Valid() bool {
	n := 0
	if c.Emoji != "" {
		n++
	}
	if c.Color != "" {
		n++
	}
	if c.Image != "" {
		n++
	}
	return n == 1
}

// Playlist represents a named, ordered collection of song references.
// SongIDs keeps addition order.
type Playlist struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Cover       PlaylistCover `json:"cover"`
	CreatedBy   Member        `json:"createdBy"`
	CreatedAt   time.Time     `json:"createdAt"`
	SongIDs     []string      `json:"songIds"`
}
