package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/IliaW/report-downloader/config"
	"github.com/IliaW/report-downloader/internal"
)

type LocalStorage struct {
	dir string
}

func NewLocalStorage(cfg *config.StorageConfig) *LocalStorage {
	if err := os.MkdirAll(cfg.DownloadDir, 0755); err != nil {
		slog.Error("failed to create download directory.", slog.String("dir", cfg.DownloadDir),
			slog.String("err", err.Error()))
		os.Exit(1)
	}
	return &LocalStorage{dir: cfg.DownloadDir}
}

// Write saves the pdf through a temp file and a rename so a crash never
// leaves a half-written file under the final name.
func (s *LocalStorage) Write(_ context.Context, brnum string, body []byte) (string, error) {
	name := internal.FileName(brnum)
	path := filepath.Join(s.dir, name+".pdf")

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		slog.Error("failed to create temp file.", slog.String("err", err.Error()))
		return "", err
	}
	if _, err = tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		slog.Error("failed to write pdf.", slog.String("path", path), slog.String("err", err.Error()))
		return "", err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		slog.Error("failed to move pdf into place.", slog.String("path", path),
			slog.String("err", err.Error()))
		return "", err
	}
	slog.Debug("pdf saved.", slog.String("path", path))

	return path, nil
}
