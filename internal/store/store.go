package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"serenade/pkg/models"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound signals that a membership operation referenced a playlist or
// song that does not exist. Plain lookups return an absence value instead.
var ErrNotFound = errors.New("not found")

// Store wraps a *sql.DB providing the durable media library: two keyed
// collections (songs with their binary payloads, playlists with ordered
// membership). It is safe for concurrent use because the underlying *sql.DB
// is concurrency-safe.
type Store struct {
	conn   *sql.DB
	logger *logrus.Logger

	// Prepared statements for the hot paths
	upsertSongStmt     *sql.Stmt
	getSongStmt        *sql.Stmt
	deleteSongStmt     *sql.Stmt
	upsertPlaylistStmt *sql.Stmt
	getPlaylistStmt    *sql.Stmt
	deletePlaylistStmt *sql.Stmt
}

// NewStore opens (or creates) a SQLite database at the provided path and
// ensures all required tables and indices exist. It also applies lightweight
// performance-oriented pragmas (WAL, cache sizing). Caller should Close() it
// when finished.
func NewStore(dbPath string) (*Store, error) {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - adjusted for SQLite
	conn.SetMaxOpenConns(5) // SQLite works better with fewer connections
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	// Enable WAL mode for better concurrency
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	s := &Store{
		conn:   conn,
		logger: logger,
	}

	if err := s.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Media store initialized successfully")
	return s, nil
}

// createTables creates tables and indices if they do not already exist.
// This is idempotent and safe to call multiple times.
func (s *Store) createTables() error {
	songsTable := `
	CREATE TABLE IF NOT EXISTS songs (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		artist TEXT NOT NULL,
		album TEXT NOT NULL DEFAULT '',
		genre TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		duration REAL NOT NULL DEFAULT 0,
		file_data BLOB NOT NULL,
		file_type TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		cover_image TEXT NOT NULL DEFAULT '',
		uploaded_by TEXT NOT NULL,
		uploaded_at INTEGER NOT NULL,
		playlist_ids TEXT NOT NULL DEFAULT '[]'
	);`

	playlistsTable := `
	CREATE TABLE IF NOT EXISTS playlists (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		cover_emoji TEXT NOT NULL DEFAULT '',
		cover_color TEXT NOT NULL DEFAULT '',
		cover_image TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		song_ids TEXT NOT NULL DEFAULT '[]'
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_songs_uploaded_at ON songs(uploaded_at);",
		"CREATE INDEX IF NOT EXISTS idx_songs_uploaded_by ON songs(uploaded_by);",
		"CREATE INDEX IF NOT EXISTS idx_songs_title_artist ON songs(title, artist);",
		"CREATE INDEX IF NOT EXISTS idx_playlists_created_at ON playlists(created_at);",
		"CREATE INDEX IF NOT EXISTS idx_playlists_created_by ON playlists(created_by);",
	}

	tables := []string{songsTable, playlistsTable}
	for _, table := range tables {
		if _, err := s.conn.Exec(table); err != nil {
			return err
		}
	}

	for _, index := range indices {
		if _, err := s.conn.Exec(index); err != nil {
			return err
		}
	}

	return nil
}

// prepareStatements prepares commonly used SQL statements
func (s *Store) prepareStatements() error {
	var err error

	s.upsertSongStmt, err = s.conn.Prepare(`
		INSERT INTO songs (id, title, artist, album, genre, year, notes, duration, file_data, file_type, file_size, cover_image, uploaded_by, uploaded_at, playlist_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			artist=excluded.artist,
			album=excluded.album,
			genre=excluded.genre,
			year=excluded.year,
			notes=excluded.notes,
			duration=excluded.duration,
			file_data=excluded.file_data,
			file_type=excluded.file_type,
			file_size=excluded.file_size,
			cover_image=excluded.cover_image,
			uploaded_by=excluded.uploaded_by,
			uploaded_at=excluded.uploaded_at,
			playlist_ids=excluded.playlist_ids`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert song statement: %w", err)
	}

	s.getSongStmt, err = s.conn.Prepare(`
		SELECT id, title, artist, album, genre, year, notes, duration, file_data, file_type, file_size, cover_image, uploaded_by, uploaded_at, playlist_ids
		FROM songs WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get song statement: %w", err)
	}

	s.deleteSongStmt, err = s.conn.Prepare(`DELETE FROM songs WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete song statement: %w", err)
	}

	s.upsertPlaylistStmt, err = s.conn.Prepare(`
		INSERT INTO playlists (id, name, description, cover_emoji, cover_color, cover_image, created_by, created_at, song_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			description=excluded.description,
			cover_emoji=excluded.cover_emoji,
			cover_color=excluded.cover_color,
			cover_image=excluded.cover_image,
			created_by=excluded.created_by,
			created_at=excluded.created_at,
			song_ids=excluded.song_ids`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert playlist statement: %w", err)
	}

	s.getPlaylistStmt, err = s.conn.Prepare(`
		SELECT id, name, description, cover_emoji, cover_color, cover_image, created_by, created_at, song_ids
		FROM playlists WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get playlist statement: %w", err)
	}

	s.deletePlaylistStmt, err = s.conn.Prepare(`DELETE FROM playlists WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete playlist statement: %w", err)
	}

	return nil
}

// SaveSong inserts or replaces a song record by id. No validation is
// performed here; the upload guard owns validation.
func (s *Store) SaveSong(song *models.Song) error {
	playlistIDs, err := encodeIDs(song.PlaylistIDs)
	if err != nil {
		return fmt.Errorf("failed to encode playlist ids: %w", err)
	}

	_, err = s.upsertSongStmt.Exec(
		song.ID, song.Title, song.Artist, song.Album, song.Genre, song.Year,
		song.Notes, song.Duration, song.FileData, song.FileType, song.FileSize,
		song.CoverImage, string(song.UploadedBy), song.UploadedAt.UnixMilli(), playlistIDs)
	if err != nil {
		s.logger.WithError(err).WithField("song_id", song.ID).Error("Failed to save song")
		return err
	}
	return nil
}

// GetSong returns a song by id, or nil when no such song exists. A missing
// song is an absence value, not an error.
func (s *Store) GetSong(id string) (*models.Song, error) {
	row := s.getSongStmt.QueryRow(id)
	song, err := scanSong(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		s.logger.WithError(err).WithField("song_id", id).Error("Failed to get song")
		return nil, err
	}
	return song, nil
}

// GetAllSongs returns all songs ordered by upload time.
func (s *Store) GetAllSongs() ([]*models.Song, error) {
	rows, err := s.conn.Query(`
		SELECT id, title, artist, album, genre, year, notes, duration, file_data, file_type, file_size, cover_image, uploaded_by, uploaded_at, playlist_ids
		FROM songs
		ORDER BY uploaded_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSongRows(rows)
}

// DeleteSong removes a song record. Playlist references to the id are left
// in place and pruned lazily by GetPlaylistSongs; any transient playable
// handle for the song is the session's to release.
func (s *Store) DeleteSong(id string) error {
	_, err := s.deleteSongStmt.Exec(id)
	if err != nil {
		s.logger.WithError(err).WithField("song_id", id).Error("Failed to delete song")
	}
	return err
}

// CreatePlaylist builds and persists a new playlist with a fresh id.
func (s *Store) CreatePlaylist(name, description string, cover models.PlaylistCover, by models.Member) (*models.Playlist, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("playlist name cannot be empty")
	}
	if !cover.Valid() {
		return nil, fmt.Errorf("playlist cover must have exactly one representation")
	}
	if !by.Valid() {
		return nil, fmt.Errorf("playlist creator must be a known member")
	}

	playlist := &models.Playlist{
		ID:          "playlist-" + uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Cover:       cover,
		CreatedBy:   by,
		CreatedAt:   time.Now(),
		SongIDs:     []string{},
	}
	if err := s.SavePlaylist(playlist); err != nil {
		return nil, err
	}
	return playlist, nil
}

// SavePlaylist inserts or replaces a playlist record by id.
func (s *Store) SavePlaylist(playlist *models.Playlist) error {
	songIDs, err := encodeIDs(playlist.SongIDs)
	if err != nil {
		return fmt.Errorf("failed to encode song ids: %w", err)
	}

	_, err = s.upsertPlaylistStmt.Exec(
		playlist.ID, playlist.Name, playlist.Description,
		playlist.Cover.Emoji, playlist.Cover.Color, playlist.Cover.Image,
		string(playlist.CreatedBy), playlist.CreatedAt.UnixMilli(), songIDs)
	if err != nil {
		s.logger.WithError(err).WithField("playlist_id", playlist.ID).Error("Failed to save playlist")
		return err
	}
	return nil
}

// GetPlaylist returns a playlist by id, or nil when no such playlist exists.
func (s *Store) GetPlaylist(id string) (*models.Playlist, error) {
	row := s.getPlaylistStmt.QueryRow(id)
	playlist, err := scanPlaylist(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		s.logger.WithError(err).WithField("playlist_id", id).Error("Failed to get playlist")
		return nil, err
	}
	return playlist, nil
}

// GetAllPlaylists returns all playlists ordered by creation time.
func (s *Store) GetAllPlaylists() ([]*models.Playlist, error) {
	rows, err := s.conn.Query(`
		SELECT id, name, description, cover_emoji, cover_color, cover_image, created_by, created_at, song_ids
		FROM playlists
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var playlists []*models.Playlist
	for rows.Next() {
		playlist, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, playlist)
	}
	return playlists, rows.Err()
}

// DeletePlaylist removes a playlist record. Member songs are never deleted.
func (s *Store) DeletePlaylist(id string) error {
	_, err := s.deletePlaylistStmt.Exec(id)
	if err != nil {
		s.logger.WithError(err).WithField("playlist_id", id).Error("Failed to delete playlist")
	}
	return err
}

// GetPlaylistSongs resolves a playlist's member ids against the song
// collection, preserving membership order. Ids referring to deleted songs
// are dropped from the result and pruned from the playlist's stored
// membership (self-healing, not an error). A missing playlist yields an
// empty result.
func (s *Store) GetPlaylistSongs(playlistID string) ([]*models.Song, error) {
	playlist, err := s.GetPlaylist(playlistID)
	if err != nil {
		return nil, err
	}
	if playlist == nil {
		return nil, nil
	}

	allSongs, err := s.GetAllSongs()
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(allSongs, func(song *models.Song) string { return song.ID })

	var songs []*models.Song
	var keptIDs []string
	for _, id := range playlist.SongIDs {
		if song, ok := byID[id]; ok {
			songs = append(songs, song)
			keptIDs = append(keptIDs, id)
		}
	}

	// Prune stale references so the stored membership matches reality
	if len(keptIDs) != len(playlist.SongIDs) {
		pruned := len(playlist.SongIDs) - len(keptIDs)
		playlist.SongIDs = keptIDs
		if err := s.SavePlaylist(playlist); err != nil {
			return nil, fmt.Errorf("failed to prune playlist membership: %w", err)
		}
		s.logger.WithFields(logrus.Fields{
			"playlist_id": playlistID,
			"pruned":      pruned,
		}).Info("Pruned stale song references from playlist")
	}

	return songs, nil
}

// AddSongToPlaylist records membership on both sides of the relationship in
// one transaction. Adding an already-present id is a no-op. A missing
// playlist or song is a hard error (ErrNotFound).
func (s *Store) AddSongToPlaylist(songID, playlistID string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	songIDs, err := readIDList(tx, `SELECT song_ids FROM playlists WHERE id = ?`, playlistID)
	if err != nil {
		return fmt.Errorf("playlist %s: %w", playlistID, err)
	}
	playlistIDs, err := readIDList(tx, `SELECT playlist_ids FROM songs WHERE id = ?`, songID)
	if err != nil {
		return fmt.Errorf("song %s: %w", songID, err)
	}

	if !lo.Contains(songIDs, songID) {
		songIDs = append(songIDs, songID)
		if err := writeIDList(tx, `UPDATE playlists SET song_ids = ? WHERE id = ?`, songIDs, playlistID); err != nil {
			return err
		}
	}
	if !lo.Contains(playlistIDs, playlistID) {
		playlistIDs = append(playlistIDs, playlistID)
		if err := writeIDList(tx, `UPDATE songs SET playlist_ids = ? WHERE id = ?`, playlistIDs, songID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RemoveSongFromPlaylist removes membership from both sides in one
// transaction. A missing playlist is a hard error; a missing song only has
// the playlist side to clean up.
func (s *Store) RemoveSongFromPlaylist(songID, playlistID string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	songIDs, err := readIDList(tx, `SELECT song_ids FROM playlists WHERE id = ?`, playlistID)
	if err != nil {
		return fmt.Errorf("playlist %s: %w", playlistID, err)
	}

	songIDs = lo.Without(songIDs, songID)
	if err := writeIDList(tx, `UPDATE playlists SET song_ids = ? WHERE id = ?`, songIDs, playlistID); err != nil {
		return err
	}

	playlistIDs, err := readIDList(tx, `SELECT playlist_ids FROM songs WHERE id = ?`, songID)
	if err == nil {
		playlistIDs = lo.Without(playlistIDs, playlistID)
		if err := writeIDList(tx, `UPDATE songs SET playlist_ids = ? WHERE id = ?`, playlistIDs, songID); err != nil {
			return err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("song %s: %w", songID, err)
	}

	return tx.Commit()
}

// TotalAudioBytes returns the summed payload size of all stored songs.
func (s *Store) TotalAudioBytes() (int64, error) {
	var total sql.NullInt64
	err := s.conn.QueryRow(`SELECT COALESCE(SUM(file_size), 0) FROM songs`).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// Close closes the underlying database connection and prepared statements.
func (s *Store) Close() error {
	statements := []*sql.Stmt{
		s.upsertSongStmt,
		s.getSongStmt,
		s.deleteSongStmt,
		s.upsertPlaylistStmt,
		s.getPlaylistStmt,
		s.deletePlaylistStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				s.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// readIDList reads one JSON-encoded id list column inside a transaction.
// A missing row maps to ErrNotFound.
func readIDList(tx *sql.Tx, query, id string) ([]string, error) {
	var raw string
	if err := tx.QueryRow(query, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeIDs(raw)
}

// writeIDList writes one JSON-encoded id list column inside a transaction.
func writeIDList(tx *sql.Tx, query string, ids []string, id string) error {
	encoded, err := encodeIDs(ids)
	if err != nil {
		return err
	}
	_, err = tx.Exec(query, encoded, id)
	return err
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeIDs(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSong scans a standard song result row.
func scanSong(row rowScanner) (*models.Song, error) {
	var song models.Song
	var uploadedBy string
	var uploadedAt int64
	var playlistIDs string

	if err := row.Scan(&song.ID, &song.Title, &song.Artist, &song.Album, &song.Genre,
		&song.Year, &song.Notes, &song.Duration, &song.FileData, &song.FileType,
		&song.FileSize, &song.CoverImage, &uploadedBy, &uploadedAt, &playlistIDs); err != nil {
		return nil, err
	}

	song.UploadedBy = models.Member(uploadedBy)
	song.UploadedAt = time.UnixMilli(uploadedAt)

	ids, err := decodeIDs(playlistIDs)
	if err != nil {
		return nil, fmt.Errorf("corrupt playlist id list for song %s: %w", song.ID, err)
	}
	song.PlaylistIDs = ids

	return &song, nil
}

// scanSongRows scans standard song result sets. Callers must have already
// deferred rows.Close().
func scanSongRows(rows *sql.Rows) ([]*models.Song, error) {
	var songs []*models.Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		songs = append(songs, song)
	}
	return songs, rows.Err()
}

// scanPlaylist scans a standard playlist result row.
func scanPlaylist(row rowScanner) (*models.Playlist, error) {
	var playlist models.Playlist
	var createdBy string
	var createdAt int64
	var songIDs string

	if err := row.Scan(&playlist.ID, &playlist.Name, &playlist.Description,
		&playlist.Cover.Emoji, &playlist.Cover.Color, &playlist.Cover.Image,
		&createdBy, &createdAt, &songIDs); err != nil {
		return nil, err
	}

	playlist.CreatedBy = models.Member(createdBy)
	playlist.CreatedAt = time.UnixMilli(createdAt)

	ids, err := decodeIDs(songIDs)
	if err != nil {
		return nil, fmt.Errorf("corrupt song id list for playlist %s: %w", playlist.ID, err)
	}
	playlist.SongIDs = ids

	return &playlist, nil
}
