package guard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"serenade/internal/audio"
	"serenade/internal/config"
	"serenade/internal/metadata"
	"serenade/internal/quota"
	"serenade/internal/store"
	"serenade/pkg/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Upload describes one upload attempt: the raw file plus the metadata the
// uploader confirmed or edited.
type Upload struct {
	Filename string
	MIMEType string
	Data     []byte

	Title      string `validate:"required,min=1,max=100"`
	Artist     string `validate:"required,min=1,max=100"`
	Album      string `validate:"max=200"`
	Genre      string `validate:"max=100"`
	Year       int    `validate:"omitempty,gte=1000,lte=9999"`
	Notes      string `validate:"max=2000"`
	CoverImage string

	UploadedBy  models.Member
	PlaylistIDs []string // playlists to attach the new song to
}

// Guard owns the upload admission pipeline: format and size checks, storage
// quota, duplicate detection, the playability probe, and finally persistence.
type Guard struct {
	cfg       *config.Config
	store     *store.Store
	estimator quota.Estimator
	prober    audio.DurationProber
	extractor *metadata.Extractor
	validate  *validator.Validate
	logger    *logrus.Logger
}

// NewGuard creates the upload guard
func NewGuard(cfg *config.Config, st *store.Store, estimator quota.Estimator, prober audio.DurationProber) *Guard {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Guard{
		cfg:       cfg,
		store:     st,
		estimator: estimator,
		prober:    prober,
		extractor: metadata.NewExtractor(),
		validate:  validator.New(),
		logger:    logger,
	}
}

// InspectFile runs the cheap per-file checks (format, emptiness, size) and
// returns a metadata prefill for the upload form: embedded tags when the
// file carries any, filename heuristics otherwise.
func (g *Guard) InspectFile(data []byte, filename, mimeType string) (*metadata.Extracted, error) {
	if err := g.checkFile(data, filename, mimeType); err != nil {
		return nil, err
	}

	if extracted, ok := g.extractor.Extract(data, filename); ok {
		return extracted, nil
	}
	return metadata.FromFilename(filename), nil
}

// ProcessUpload runs the full admission pipeline and, on success, persists
// the new song and attaches it to the requested playlists. The returned song
// carries the probed duration and the resolved MIME type.
func (g *Guard) ProcessUpload(ctx context.Context, upload *Upload) (*models.Song, error) {
	if err := g.checkFile(upload.Data, upload.Filename, upload.MIMEType); err != nil {
		return nil, err
	}

	// Embedded tags fill in whatever the uploader left blank
	if extracted, ok := g.extractor.Extract(upload.Data, upload.Filename); ok {
		fillBlanks(upload, extracted)
	}

	if err := g.checkFields(upload); err != nil {
		return nil, err
	}
	if err := g.checkQuota(int64(len(upload.Data))); err != nil {
		return nil, err
	}

	existing, err := g.store.GetAllSongs()
	if err != nil {
		return nil, fmt.Errorf("failed to load library for duplicate check: %w", err)
	}
	if dup := findDuplicate(existing, upload); dup != nil {
		g.logger.WithFields(logrus.Fields{
			"filename":    upload.Filename,
			"existing_id": dup.Existing.ID,
			"reason":      dup.Reason,
		}).Info("Upload rejected as duplicate")
		return nil, dup
	}

	mimeType := resolveMIME(upload.MIMEType, upload.Filename)
	duration, err := g.prober.Probe(ctx, upload.Data, mimeType, upload.Filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptFile, err)
	}

	song := g.buildSong(upload, mimeType, duration)
	if err := g.store.SaveSong(song); err != nil {
		return nil, fmt.Errorf("failed to save song: %w", err)
	}

	for _, playlistID := range upload.PlaylistIDs {
		if err := g.store.AddSongToPlaylist(song.ID, playlistID); err != nil {
			return nil, fmt.Errorf("failed to attach song to playlist %s: %w", playlistID, err)
		}
	}

	g.logger.WithFields(logrus.Fields{
		"song_id":   song.ID,
		"title":     song.Title,
		"artist":    song.Artist,
		"size":      song.FileSize,
		"duration":  song.Duration,
		"playlists": len(upload.PlaylistIDs),
	}).Info("Upload accepted")

	return song, nil
}

// AttachExisting adds an already-stored song to playlists, typically after
// the caller chose to reuse a duplicate instead of re-uploading. Playlists
// the song is already in are skipped; if every target was a skip, the
// caller gets AlreadyInPlaylistError.
func (g *Guard) AttachExisting(songID string, playlistIDs []string) error {
	song, err := g.store.GetSong(songID)
	if err != nil {
		return err
	}
	if song == nil {
		return store.ErrNotFound
	}

	already := lo.Intersect(song.PlaylistIDs, playlistIDs)
	missing := lo.Without(playlistIDs, already...)

	if len(missing) == 0 && len(playlistIDs) > 0 {
		return &AlreadyInPlaylistError{SongID: songID, PlaylistIDs: already}
	}

	for _, playlistID := range missing {
		if err := g.store.AddSongToPlaylist(songID, playlistID); err != nil {
			return fmt.Errorf("failed to attach song to playlist %s: %w", playlistID, err)
		}
	}
	return nil
}

// StorageUsage reports the device storage estimate plus the bytes the
// library itself holds, for the storage indicator.
func (g *Guard) StorageUsage() (quota.Usage, int64, error) {
	usage, err := g.estimator.Estimate()
	if err != nil {
		return quota.Usage{}, 0, err
	}
	stored, err := g.store.TotalAudioBytes()
	if err != nil {
		return usage, 0, err
	}
	return usage, stored, nil
}

// checkFile enforces format, emptiness, and size limits
func (g *Guard) checkFile(data []byte, filename, mimeType string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !g.cfg.IsFormatSupported(ext) {
		return fmt.Errorf("%w: %s", ErrInvalidFormat, ext)
	}
	resolved := resolveMIME(mimeType, filename)
	if !g.cfg.IsTypeAllowed(resolved) {
		return fmt.Errorf("%w: %s", ErrInvalidFormat, resolved)
	}
	if len(data) == 0 {
		return ErrEmpty
	}
	if int64(len(data)) > g.cfg.MaxFileSizeBytes() {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(data), g.cfg.MaxFileSizeBytes())
	}
	return nil
}

// checkFields validates the user-editable metadata fields. Length rules
// apply to the trimmed values.
func (g *Guard) checkFields(upload *Upload) error {
	upload.Title = strings.TrimSpace(upload.Title)
	upload.Artist = strings.TrimSpace(upload.Artist)

	if !upload.UploadedBy.Valid() {
		return &ValidationError{Fields: []FieldError{{Field: "uploadedBy", Message: "must identify a known member"}}}
	}

	err := g.validate.Struct(upload)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, ve := range verrs {
		fields = append(fields, FieldError{
			Field:   strings.ToLower(ve.Field()),
			Message: messageFor(ve),
		})
	}
	return &ValidationError{Fields: fields}
}

// messageFor maps a validator tag to a readable message
func messageFor(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "is required"
	case "min":
		return "is too short"
	case "max":
		return "is too long"
	case "gte", "lte":
		return "is out of range"
	default:
		return "is invalid"
	}
}

// checkQuota rejects uploads that would not fit in the remaining headroom.
// An unlimited estimate (no quota reported) never blocks; a file exactly
// filling the headroom is accepted.
func (g *Guard) checkQuota(size int64) error {
	usage, err := g.estimator.Estimate()
	if err != nil {
		g.logger.WithError(err).Warn("Quota estimate failed, allowing upload")
		return nil
	}
	if usage.Unlimited() {
		return nil
	}
	if uint64(size) > usage.Available() {
		return fmt.Errorf("%w: need %d bytes, %d available", ErrQuotaExceeded, size, usage.Available())
	}
	return nil
}

// findDuplicate applies the two duplicate rules against the current library.
// Metadata identity (title plus artist) is primary; byte-size plus filename
// overlap is the fallback for files with no usable tags.
func findDuplicate(existing []*models.Song, upload *Upload) *DuplicateError {
	title := normalize(upload.Title)
	artist := normalize(upload.Artist)
	stem := normalizeStem(upload.Filename)
	size := int64(len(upload.Data))

	for _, song := range existing {
		if title != "" && artist != "" &&
			normalize(song.Title) == title && normalize(song.Artist) == artist {
			return &DuplicateError{Existing: song, Reason: DuplicateMetadata}
		}
	}

	for _, song := range existing {
		if song.FileSize != size {
			continue
		}
		songTitle := normalize(song.Title)
		if stem != "" && songTitle != "" &&
			(strings.Contains(stem, songTitle) || strings.Contains(songTitle, stem)) {
			return &DuplicateError{Existing: song, Reason: DuplicateFileIdentity}
		}
	}

	return nil
}

// buildSong assembles the persisted record from an accepted upload
func (g *Guard) buildSong(upload *Upload, mimeType string, duration float64) *models.Song {
	return &models.Song{
		ID:          "song-" + uuid.NewString(),
		Title:       strings.TrimSpace(upload.Title),
		Artist:      strings.TrimSpace(upload.Artist),
		Album:       strings.TrimSpace(upload.Album),
		Genre:       strings.TrimSpace(upload.Genre),
		Year:        upload.Year,
		Notes:       strings.TrimSpace(upload.Notes),
		Duration:    duration,
		FileData:    upload.Data,
		FileType:    mimeType,
		FileSize:    int64(len(upload.Data)),
		CoverImage:  upload.CoverImage,
		UploadedBy:  upload.UploadedBy,
		UploadedAt:  time.Now(),
		PlaylistIDs: []string{},
	}
}

// fillBlanks copies extracted tag values into fields the uploader left empty
func fillBlanks(upload *Upload, extracted *metadata.Extracted) {
	if strings.TrimSpace(upload.Title) == "" {
		upload.Title = extracted.Title
	}
	if strings.TrimSpace(upload.Artist) == "" {
		upload.Artist = extracted.Artist
	}
	if strings.TrimSpace(upload.Album) == "" {
		upload.Album = extracted.Album
	}
	if strings.TrimSpace(upload.Genre) == "" {
		upload.Genre = extracted.Genre
	}
	if upload.Year == 0 {
		upload.Year = extracted.Year
	}
	if upload.CoverImage == "" {
		upload.CoverImage = extracted.CoverImage
	}
}

// resolveMIME falls back to an extension-derived MIME type when the declared
// one is empty or generic.
func resolveMIME(mimeType, filename string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if mt != "" && mt != "application/octet-stream" {
		return mt
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	default:
		return mt
	}
}

// normalize lower-cases and trims a metadata field for comparison
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeStem normalizes a filename with its extension stripped
func normalizeStem(filename string) string {
	base := filepath.Base(filename)
	return normalize(strings.TrimSuffix(base, filepath.Ext(base)))
}
