package store

import (
	"fmt"
	"time"

	"serenade/pkg/models"
)

// defaultPlaylists describes the starter playlists seeded into an empty
// library. Ids are stable so re-seeding (or a wiped library) yields the
// same records.
var defaultPlaylists = []struct {
	id          string
	name        string
	description string
	emoji       string
}{
	{"default-1", "Our Romantic Songs", "Songs that remind us of each other", "💕"},
	{"default-2", "Our Journey Songs", "The soundtrack of our story", "🎉"},
	{"default-3", "Date Night", "For candlelit evenings", "🌅"},
	{"default-4", "Road Trip", "Windows down, volume up", "🚗"},
	{"default-5", "Chill Vibes", "Slow evenings together", "🌙"},
}

// SeedDefaultPlaylists creates the starter playlists when the playlist
// collection is empty. It is a no-op on a non-empty library, so user
// deletions of individual defaults are never undone.
func (s *Store) SeedDefaultPlaylists() error {
	existing, err := s.GetAllPlaylists()
	if err != nil {
		return fmt.Errorf("failed to check existing playlists: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now()
	for i, def := range defaultPlaylists {
		playlist := &models.Playlist{
			ID:          def.id,
			Name:        def.name,
			Description: def.description,
			Cover:       models.PlaylistCover{Emoji: def.emoji},
			CreatedBy:   models.MemberYou,
			// Staggered so creation-time ordering matches the list order
			CreatedAt: now.Add(time.Duration(i-len(defaultPlaylists)) * time.Second),
			SongIDs:   []string{},
		}
		if err := s.SavePlaylist(playlist); err != nil {
			return fmt.Errorf("failed to seed playlist %s: %w", def.name, err)
		}
	}

	s.logger.WithField("count", len(defaultPlaylists)).Info("Seeded default playlists")
	return nil
}
