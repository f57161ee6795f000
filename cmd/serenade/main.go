package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"serenade/internal/audio"
	"serenade/internal/config"
	"serenade/internal/guard"
	"serenade/internal/player"
	"serenade/internal/quota"
	"serenade/internal/store"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Load .env file if present
	if err := godotenv.Load(".env"); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	configPath := os.Getenv("SERENADE_CONFIG")
	if configPath == "" {
		configPath = "./config.toml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	applyLogging(logger, cfg)

	st, err := store.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open media store")
	}
	defer st.Close()

	if cfg.Library.SeedDefaultPlaylists {
		if err := st.SeedDefaultPlaylists(); err != nil {
			logger.WithError(err).Fatal("Failed to seed default playlists")
		}
	}

	handles, err := player.NewHandleManager(cfg.Storage.HandleDir)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create handle manager")
	}
	defer handles.Close()

	estimator := quota.NewCachedEstimator(
		quota.NewDiskEstimator(cfg.Storage.DatabasePath),
		time.Duration(cfg.Quota.EstimateTTLSeconds)*time.Second,
	)
	prober := audio.NewProber(time.Duration(cfg.Playback.ProbeTimeoutSeconds) * time.Second)
	uploadGuard := guard.NewGuard(cfg, st, estimator, prober)

	output := audio.NewNullOutput()
	snapshots := player.NewFileSnapshotStore(cfg.Storage.SnapshotPath)
	session := player.NewSession(st, handles, output, snapshots, cfg)

	restored, err := session.Restore()
	if err != nil {
		logger.WithError(err).Warn("Failed to restore playback session")
	} else if restored {
		state := session.State()
		logger.WithFields(logrus.Fields{
			"song":     state.CurrentSong.Title,
			"progress": state.Progress,
		}).Info("Playback session restored")
	}

	logLibraryStats(logger, st)

	if usage, stored, err := uploadGuard.StorageUsage(); err == nil {
		logger.WithFields(logrus.Fields{
			"library_bytes": stored,
			"quota_used":    fmt.Sprintf("%.1f%%", usage.Percentage()),
			"unlimited":     usage.Unlimited(),
		}).Info("Storage usage")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	session.Close()
}

// applyLogging configures the process logger from config
func applyLogging(logger *logrus.Logger, cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger.WithError(err).Warn("Failed to open log file, using stderr")
		} else {
			logger.SetOutput(file)
		}
	}
}

// logLibraryStats reports the library contents at startup
func logLibraryStats(logger *logrus.Logger, st *store.Store) {
	songs, err := st.GetAllSongs()
	if err != nil {
		logger.WithError(err).Warn("Failed to count songs")
		return
	}
	playlists, err := st.GetAllPlaylists()
	if err != nil {
		logger.WithError(err).Warn("Failed to count playlists")
		return
	}
	total, err := st.TotalAudioBytes()
	if err != nil {
		logger.WithError(err).Warn("Failed to sum audio bytes")
		return
	}

	logger.WithFields(logrus.Fields{
		"songs":     len(songs),
		"playlists": len(playlists),
		"bytes":     total,
	}).Info("Media library ready")
}
