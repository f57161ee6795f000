package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"serenade/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(filepath.Join(t.TempDir(), "library.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSong(id, title, artist string, payload []byte) *models.Song {
	return &models.Song{
		ID:          id,
		Title:       title,
		Artist:      artist,
		Duration:    180.5,
		FileData:    payload,
		FileType:    "audio/mpeg",
		FileSize:    int64(len(payload)),
		UploadedBy:  models.MemberYou,
		UploadedAt:  time.Now(),
		PlaylistIDs: []string{},
	}
}

func testPlaylist(id, name string, songIDs ...string) *models.Playlist {
	if songIDs == nil {
		songIDs = []string{}
	}
	return &models.Playlist{
		ID:        id,
		Name:      name,
		Cover:     models.PlaylistCover{Emoji: "🎵"},
		CreatedBy: models.MemberHer,
		CreatedAt: time.Now(),
		SongIDs:   songIDs,
	}
}

func TestSongRoundTrip(t *testing.T) {
	s := newTestStore(t)

	payload := []byte{0xFF, 0xFB, 0x90, 0x00, 0x01, 0x02, 0x03}
	song := testSong("song-1", "Golden Hour", "JVKE", payload)
	song.Album = "this is what ____ feels like"
	song.Year = 2022
	song.Notes = "the song from our first road trip"

	if err := s.SaveSong(song); err != nil {
		t.Fatalf("SaveSong failed: %v", err)
	}

	got, err := s.GetSong("song-1")
	if err != nil {
		t.Fatalf("GetSong failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected song, got nil")
	}

	if got.Title != song.Title || got.Artist != song.Artist || got.Album != song.Album {
		t.Errorf("metadata mismatch: got %q/%q/%q", got.Title, got.Artist, got.Album)
	}
	if got.Year != 2022 || got.Notes != song.Notes {
		t.Errorf("year/notes mismatch: got %d/%q", got.Year, got.Notes)
	}
	if !bytes.Equal(got.FileData, payload) {
		t.Error("payload bytes changed across round trip")
	}
	if got.FileSize != int64(len(payload)) {
		t.Errorf("expected size %d, got %d", len(payload), got.FileSize)
	}
	if got.UploadedBy != models.MemberYou {
		t.Errorf("expected uploader %q, got %q", models.MemberYou, got.UploadedBy)
	}
	if got.UploadedAt.UnixMilli() != song.UploadedAt.UnixMilli() {
		t.Error("upload time changed across round trip")
	}
	if len(got.PlaylistIDs) != 0 {
		t.Errorf("expected no playlist memberships, got %v", got.PlaylistIDs)
	}
}

func TestGetSongMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetSong("song-nope")
	if err != nil {
		t.Fatalf("GetSong failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing song, got %+v", got)
	}
}

func TestGetAllSongsOrder(t *testing.T) {
	s := newTestStore(t)

	base := time.Now()
	for i, id := range []string{"song-c", "song-a", "song-b"} {
		song := testSong(id, "Track "+id, "Artist", []byte{1})
		song.UploadedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.SaveSong(song); err != nil {
			t.Fatalf("SaveSong failed: %v", err)
		}
	}

	songs, err := s.GetAllSongs()
	if err != nil {
		t.Fatalf("GetAllSongs failed: %v", err)
	}
	if len(songs) != 3 {
		t.Fatalf("expected 3 songs, got %d", len(songs))
	}
	for i, want := range []string{"song-c", "song-a", "song-b"} {
		if songs[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, songs[i].ID)
		}
	}
}

func TestMembership(t *testing.T) {
	s := newTestStore(t)

	song := testSong("song-1", "Yellow", "Coldplay", []byte{1, 2})
	if err := s.SaveSong(song); err != nil {
		t.Fatalf("SaveSong failed: %v", err)
	}
	if err := s.SavePlaylist(testPlaylist("pl-1", "Date Night")); err != nil {
		t.Fatalf("SavePlaylist failed: %v", err)
	}

	t.Run("add records both sides", func(t *testing.T) {
		if err := s.AddSongToPlaylist("song-1", "pl-1"); err != nil {
			t.Fatalf("AddSongToPlaylist failed: %v", err)
		}

		pl, _ := s.GetPlaylist("pl-1")
		if len(pl.SongIDs) != 1 || pl.SongIDs[0] != "song-1" {
			t.Errorf("playlist side not updated: %v", pl.SongIDs)
		}
		sg, _ := s.GetSong("song-1")
		if len(sg.PlaylistIDs) != 1 || sg.PlaylistIDs[0] != "pl-1" {
			t.Errorf("song side not updated: %v", sg.PlaylistIDs)
		}
	})

	t.Run("add is idempotent", func(t *testing.T) {
		if err := s.AddSongToPlaylist("song-1", "pl-1"); err != nil {
			t.Fatalf("repeated add failed: %v", err)
		}

		pl, _ := s.GetPlaylist("pl-1")
		if len(pl.SongIDs) != 1 {
			t.Errorf("expected single membership, got %v", pl.SongIDs)
		}
	})

	t.Run("add to missing playlist", func(t *testing.T) {
		err := s.AddSongToPlaylist("song-1", "pl-nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("add missing song", func(t *testing.T) {
		err := s.AddSongToPlaylist("song-nope", "pl-1")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("remove clears both sides", func(t *testing.T) {
		if err := s.RemoveSongFromPlaylist("song-1", "pl-1"); err != nil {
			t.Fatalf("RemoveSongFromPlaylist failed: %v", err)
		}

		pl, _ := s.GetPlaylist("pl-1")
		if len(pl.SongIDs) != 0 {
			t.Errorf("playlist side not cleared: %v", pl.SongIDs)
		}
		sg, _ := s.GetSong("song-1")
		if len(sg.PlaylistIDs) != 0 {
			t.Errorf("song side not cleared: %v", sg.PlaylistIDs)
		}
	})
}

func TestGetPlaylistSongsPrunesDeleted(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"song-1", "song-2", "song-3"} {
		if err := s.SaveSong(testSong(id, "Track "+id, "Artist", []byte{1})); err != nil {
			t.Fatalf("SaveSong failed: %v", err)
		}
	}
	if err := s.SavePlaylist(testPlaylist("pl-1", "Road Trip")); err != nil {
		t.Fatalf("SavePlaylist failed: %v", err)
	}
	for _, id := range []string{"song-1", "song-2", "song-3"} {
		if err := s.AddSongToPlaylist(id, "pl-1"); err != nil {
			t.Fatalf("AddSongToPlaylist failed: %v", err)
		}
	}

	if err := s.DeleteSong("song-2"); err != nil {
		t.Fatalf("DeleteSong failed: %v", err)
	}

	songs, err := s.GetPlaylistSongs("pl-1")
	if err != nil {
		t.Fatalf("GetPlaylistSongs failed: %v", err)
	}
	if len(songs) != 2 {
		t.Fatalf("expected 2 songs after prune, got %d", len(songs))
	}
	if songs[0].ID != "song-1" || songs[1].ID != "song-3" {
		t.Errorf("membership order not preserved: %s, %s", songs[0].ID, songs[1].ID)
	}

	// The stale reference should be gone from the stored membership too
	pl, _ := s.GetPlaylist("pl-1")
	if len(pl.SongIDs) != 2 {
		t.Errorf("stored membership not pruned: %v", pl.SongIDs)
	}
}

func TestGetPlaylistSongsMissingPlaylist(t *testing.T) {
	s := newTestStore(t)

	songs, err := s.GetPlaylistSongs("pl-nope")
	if err != nil {
		t.Fatalf("GetPlaylistSongs failed: %v", err)
	}
	if len(songs) != 0 {
		t.Errorf("expected empty result, got %d songs", len(songs))
	}
}

func TestDeletePlaylistKeepsSongs(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveSong(testSong("song-1", "Holocene", "Bon Iver", []byte{1})); err != nil {
		t.Fatalf("SaveSong failed: %v", err)
	}
	if err := s.SavePlaylist(testPlaylist("pl-1", "Chill Vibes")); err != nil {
		t.Fatalf("SavePlaylist failed: %v", err)
	}
	if err := s.AddSongToPlaylist("song-1", "pl-1"); err != nil {
		t.Fatalf("AddSongToPlaylist failed: %v", err)
	}

	if err := s.DeletePlaylist("pl-1"); err != nil {
		t.Fatalf("DeletePlaylist failed: %v", err)
	}

	song, err := s.GetSong("song-1")
	if err != nil {
		t.Fatalf("GetSong failed: %v", err)
	}
	if song == nil {
		t.Fatal("song deleted along with playlist")
	}
}

func TestSeedDefaultPlaylists(t *testing.T) {
	s := newTestStore(t)

	if err := s.SeedDefaultPlaylists(); err != nil {
		t.Fatalf("SeedDefaultPlaylists failed: %v", err)
	}

	playlists, err := s.GetAllPlaylists()
	if err != nil {
		t.Fatalf("GetAllPlaylists failed: %v", err)
	}
	if len(playlists) != 5 {
		t.Fatalf("expected 5 default playlists, got %d", len(playlists))
	}
	if playlists[0].Name != "Our Romantic Songs" {
		t.Errorf("unexpected first playlist: %s", playlists[0].Name)
	}
	for _, pl := range playlists {
		if !pl.Cover.Valid() {
			t.Errorf("playlist %s has invalid cover", pl.Name)
		}
	}

	t.Run("second seed is a no-op", func(t *testing.T) {
		if err := s.SeedDefaultPlaylists(); err != nil {
			t.Fatalf("second seed failed: %v", err)
		}
		playlists, _ := s.GetAllPlaylists()
		if len(playlists) != 5 {
			t.Errorf("expected 5 playlists after re-seed, got %d", len(playlists))
		}
	})

	t.Run("deletions are not undone", func(t *testing.T) {
		if err := s.DeletePlaylist("default-1"); err != nil {
			t.Fatalf("DeletePlaylist failed: %v", err)
		}
		if err := s.SeedDefaultPlaylists(); err != nil {
			t.Fatalf("seed after delete failed: %v", err)
		}
		playlists, _ := s.GetAllPlaylists()
		if len(playlists) != 4 {
			t.Errorf("expected 4 playlists, got %d", len(playlists))
		}
	})
}

func TestCreatePlaylist(t *testing.T) {
	s := newTestStore(t)

	pl, err := s.CreatePlaylist("  Slow Dancing ", "kitchen floor classics", models.PlaylistCover{Color: "#F4A6C1"}, models.MemberHer)
	if err != nil {
		t.Fatalf("CreatePlaylist failed: %v", err)
	}
	if pl.Name != "Slow Dancing" {
		t.Errorf("name not trimmed: %q", pl.Name)
	}
	if pl.ID == "" || pl.ID == "playlist-" {
		t.Errorf("missing generated id: %q", pl.ID)
	}

	stored, err := s.GetPlaylist(pl.ID)
	if err != nil || stored == nil {
		t.Fatalf("created playlist not stored: %v", err)
	}
	if stored.CreatedBy != models.MemberHer {
		t.Errorf("unexpected creator: %s", stored.CreatedBy)
	}

	t.Run("rejects invalid input", func(t *testing.T) {
		if _, err := s.CreatePlaylist("", "", models.PlaylistCover{Emoji: "🎵"}, models.MemberYou); err == nil {
			t.Error("expected rejection of empty name")
		}
		if _, err := s.CreatePlaylist("Both Covers", "", models.PlaylistCover{Emoji: "🎵", Color: "#fff"}, models.MemberYou); err == nil {
			t.Error("expected rejection of ambiguous cover")
		}
		if _, err := s.CreatePlaylist("Nobody", "", models.PlaylistCover{Emoji: "🎵"}, models.Member("them")); err == nil {
			t.Error("expected rejection of unknown member")
		}
	})
}

func TestTotalAudioBytes(t *testing.T) {
	s := newTestStore(t)

	total, err := s.TotalAudioBytes()
	if err != nil {
		t.Fatalf("TotalAudioBytes failed: %v", err)
	}
	if total != 0 {
		t.Errorf("expected 0 for empty library, got %d", total)
	}

	s.SaveSong(testSong("song-1", "One", "A", make([]byte, 100)))
	s.SaveSong(testSong("song-2", "Two", "B", make([]byte, 250)))

	total, err = s.TotalAudioBytes()
	if err != nil {
		t.Fatalf("TotalAudioBytes failed: %v", err)
	}
	if total != 350 {
		t.Errorf("expected 350 bytes, got %d", total)
	}
}
