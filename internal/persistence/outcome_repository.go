package persistence

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/IliaW/report-downloader/internal/model"
)

type OutcomeStorage interface {
	Save(*model.PDFReport)
}

type OutcomeRepository struct {
	db *sql.DB
}

func NewOutcomeRepository(db *sql.DB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

func (or *OutcomeRepository) Save(r *model.PDFReport) {
	_, err := or.db.Exec(`INSERT INTO report_downloader.download_outcome
    (brnum, downloaded, status_code, status, url_source, attempts, time_to_download, storage_path, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (brnum) DO UPDATE
	SET downloaded = EXCLUDED.downloaded,
	    status_code = EXCLUDED.status_code,
		status = EXCLUDED.status,
		url_source = EXCLUDED.url_source,
		attempts = EXCLUDED.attempts,
		time_to_download = EXCLUDED.time_to_download,
		storage_path = EXCLUDED.storage_path,
		updated_at = EXCLUDED.updated_at;`,
		r.BRnum,
		r.Downloaded,
		r.StatusCode,
		r.Status,
		r.Source.String(),
		r.Attempts,
		r.TimeToDownload,
		r.StoragePath,
		time.Now().UTC())
	if err != nil {
		slog.Error("failed to save download outcome to database.", slog.String("err", err.Error()))
		return
	}
	slog.Debug("download outcome saved to db.")
}
