package report

import (
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/IliaW/report-downloader/config"
	"github.com/IliaW/report-downloader/internal/model"
	"github.com/IliaW/report-downloader/internal/persistence"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
)

// Reporter is the single consumer of terminal records. Record is safe
// to call from multiple goroutines.
type Reporter struct {
	resultChan <-chan *model.PDFReport
	cfg        *config.Config
	db         persistence.OutcomeStorage
	runID      string
	startTime  time.Time
	mu         sync.Mutex
	rows       []*model.PDFReport
	counts     map[string]int
	downloaded int
}

type Summary struct {
	RunID        string         `json:"run_id"`
	TotalRecords int            `json:"total_records"`
	Downloaded   int            `json:"downloaded"`
	Failed       int            `json:"failed"`
	DurationMs   int64          `json:"duration_ms"`
	WorkersNum   int            `json:"workers_num"`
	StatusCounts map[string]int `json:"status_counts"`
}

func NewReporter(resultChan <-chan *model.PDFReport, cfg *config.Config,
	db persistence.OutcomeStorage) *Reporter {
	return &Reporter{
		resultChan: resultChan,
		cfg:        cfg,
		db:         db,
		runID:      uuid.New().String(),
		startTime:  time.Now(),
		counts:     make(map[string]int),
	}
}

// Run consumes terminal records until the channel is closed, then writes
// the report files. Blocks the caller for the whole run.
func (rep *Reporter) Run() {
	slog.Info("starting reporter.", slog.String("run_id", rep.runID))
	processed := 0
	progressEvery := rep.cfg.ReportSettings.ProgressEvery

	for r := range rep.resultChan {
		rep.Record(r)
		if rep.db != nil {
			rep.db.Save(r)
		}
		processed++
		if progressEvery > 0 && processed%progressEvery == 0 {
			slog.Info("progress.", slog.Int("processed", processed),
				slog.Int("downloaded", rep.downloadedCount()),
				slog.Int("failed", processed-rep.downloadedCount()))
		}
	}
	rep.Finalize()
}

// Record folds one terminal record into the report. Every record counts
// exactly once, whatever its outcome.
func (rep *Reporter) Record(r *model.PDFReport) {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	rep.rows = append(rep.rows, r)
	rep.counts[r.CountKey()]++
	if r.Downloaded {
		rep.downloaded++
	}
}

// Finalize sorts the rows by BRnum and writes the csv and json outputs.
// The same set of records always produces identical files, no matter in
// which order the workers finished.
func (rep *Reporter) Finalize() {
	rep.mu.Lock()
	defer rep.mu.Unlock()

	outputDir := rep.cfg.ReportSettings.OutputDir
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		slog.Error("failed to create output directory.", slog.String("dir", outputDir),
			slog.String("err", err.Error()))
		return
	}

	sort.Slice(rep.rows, func(i, j int) bool {
		return rep.rows[i].BRnum < rep.rows[j].BRnum
	})

	rep.writeReportsCsv(filepath.Join(outputDir, rep.cfg.ReportSettings.ReportsFile))
	rep.writeStatusCountsCsv(filepath.Join(outputDir, rep.cfg.ReportSettings.StatusCountsFile))
	rep.writeSummary(filepath.Join(outputDir, rep.cfg.ReportSettings.SummaryFile))

	slog.Info("report finished.", slog.Int("total", len(rep.rows)),
		slog.Int("downloaded", rep.downloaded),
		slog.Int("failed", len(rep.rows)-rep.downloaded),
		slog.String("output_dir", outputDir))
}

func (rep *Reporter) writeReportsCsv(path string) {
	f, err := os.Create(path)
	if err != nil {
		slog.Error("failed to create report file.", slog.String("path", path),
			slog.String("err", err.Error()))
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"BRnum", "Downloaded", "Status Code"})
	for _, r := range rep.rows {
		_ = w.Write([]string{r.BRnum, r.DownloadedCell(), r.StatusCodeCell()})
	}
	w.Flush()
	if err = w.Error(); err != nil {
		slog.Error("failed to write report file.", slog.String("path", path),
			slog.String("err", err.Error()))
	}
}

func (rep *Reporter) writeStatusCountsCsv(path string) {
	f, err := os.Create(path)
	if err != nil {
		slog.Error("failed to create status counts file.", slog.String("path", path),
			slog.String("err", err.Error()))
		return
	}
	defer f.Close()

	keys := lo.Keys(rep.counts)
	sort.Strings(keys)

	w := csv.NewWriter(f)
	_ = w.Write([]string{"Result", "Count"})
	for _, key := range keys {
		_ = w.Write([]string{key, strconv.Itoa(rep.counts[key])})
	}
	w.Flush()
	if err = w.Error(); err != nil {
		slog.Error("failed to write status counts file.", slog.String("path", path),
			slog.String("err", err.Error()))
	}
}

func (rep *Reporter) writeSummary(path string) {
	summary := &Summary{
		RunID:        rep.runID,
		TotalRecords: len(rep.rows),
		Downloaded:   rep.downloaded,
		Failed:       len(rep.rows) - rep.downloaded,
		DurationMs:   time.Since(rep.startTime).Milliseconds(),
		WorkersNum:   rep.cfg.WorkerSettings.WorkersNum,
		StatusCounts: rep.counts,
	}
	body, err := jsoniter.MarshalIndent(summary, "", "  ")
	if err != nil {
		slog.Error("failed to marshal summary.", slog.String("err", err.Error()))
		return
	}
	if err = os.WriteFile(path, body, 0644); err != nil {
		slog.Error("failed to write summary file.", slog.String("path", path),
			slog.String("err", err.Error()))
	}
}

func (rep *Reporter) downloadedCount() int {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	return rep.downloaded
}
