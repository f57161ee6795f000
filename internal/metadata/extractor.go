package metadata

import (
	"bytes"
	"encoding/base64"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/sirupsen/logrus"
)

// Extracted holds best-effort metadata pulled from an uploaded audio file
type Extracted struct {
	Title      string
	Artist     string
	Album      string
	Genre      string
	Year       int
	Track      int
	CoverImage string // base64 data URL
}

// Extractor handles metadata extraction from uploaded audio bytes
type Extractor struct {
	logger *logrus.Logger
}

// NewExtractor creates a new metadata extractor
func NewExtractor() *Extractor {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Extractor{
		logger: logger,
	}
}

// Extract parses embedded tags from data. It never fails hard: unparseable
// input yields (nil, false) so callers can fall back to filename heuristics.
func (e *Extractor) Extract(data []byte, filename string) (*Extracted, bool) {
	meta, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		e.logger.WithError(err).WithField("filename", filename).Debug("No readable tags in file")
		return nil, false
	}

	extracted := &Extracted{
		Title:  strings.TrimSpace(meta.Title()),
		Artist: strings.TrimSpace(meta.Artist()),
		Album:  strings.TrimSpace(meta.Album()),
		Genre:  strings.TrimSpace(meta.Genre()),
		Year:   meta.Year(),
	}
	extracted.Track, _ = meta.Track()

	if picture := meta.Picture(); picture != nil && len(picture.Data) > 0 {
		mimeType := picture.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		extracted.CoverImage = "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(picture.Data)
	}

	// Only useful if we got at least a title or an artist
	if extracted.Title == "" && extracted.Artist == "" {
		return nil, false
	}

	e.logger.WithFields(logrus.Fields{
		"filename": filename,
		"title":    extracted.Title,
		"artist":   extracted.Artist,
		"album":    extracted.Album,
		"hasCover": extracted.CoverImage != "",
	}).Debug("Successfully extracted metadata")

	return extracted, true
}

// FromFilename derives title/artist from common filename patterns:
// "Artist - Title", "Title – Artist" (en dash), or a bare title.
func FromFilename(filename string) *Extracted {
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	if strings.Contains(name, " - ") {
		parts := strings.SplitN(name, " - ", 2)
		return &Extracted{
			Artist: strings.TrimSpace(parts[0]),
			Title:  strings.TrimSpace(parts[1]),
		}
	}

	if strings.Contains(name, " – ") {
		parts := strings.SplitN(name, " – ", 2)
		return &Extracted{
			Title:  strings.TrimSpace(parts[0]),
			Artist: strings.TrimSpace(parts[1]),
		}
	}

	return &Extracted{
		Title: strings.TrimSpace(name),
	}
}
