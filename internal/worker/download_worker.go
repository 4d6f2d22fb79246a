package worker

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/IliaW/report-downloader/internal/broker"
	"github.com/IliaW/report-downloader/internal/cache"
	"github.com/IliaW/report-downloader/internal/fetcher"
	"github.com/IliaW/report-downloader/internal/model"
	"github.com/IliaW/report-downloader/internal/storage"
	"github.com/IliaW/report-downloader/internal/telemetry"
)

type DownloadWorker struct {
	RecordChan <-chan *model.PDFReport
	ResultChan chan<- *model.PDFReport
	Fetcher    fetcher.Fetcher
	Policy     *RetryPolicy
	Storage    storage.FileStorage
	Cache      cache.CachedClient
	Wg         *sync.WaitGroup
	KafkaDLQ   *broker.KafkaDLQClient
	Metrics    *telemetry.AppMetrics
}

func (w *DownloadWorker) Run(ctx context.Context) {
	defer w.Wg.Done()
	slog.Debug("starting download worker.")

	for report := range w.RecordChan {
		w.process(ctx, report)
	}
}

// process drives a single record to a terminal state and always emits
// exactly one result, whatever happens along the way.
func (w *DownloadWorker) process(ctx context.Context, r *model.PDFReport) {
	startTime := time.Now()

	if w.Cache != nil {
		if code, ok := w.Cache.IsDownloaded(r.BRnum); ok {
			r.Downloaded = true
			r.StatusCode = code
			r.Status = "cached copy"
			r.Source = model.CachedCopy
			r.TimeToDownload = time.Since(startTime).Milliseconds()
			w.Metrics.CacheHitCounter(1)
			slog.Info("pdf already downloaded. skipping.", slog.String("brnum", r.BRnum))
			w.ResultChan <- r
			return
		}
	}

	state := w.Policy.Initial(r)
	if state == model.Failed {
		r.ErrorKind = model.ErrNoURL
		r.Status = "no url provided"
		w.finish(r, startTime)
		return
	}

	attempt := 0
	var res *model.AttemptResult
	for !state.Terminal() {
		url := r.PdfURL
		r.Source = model.PrimaryURL
		if state == model.TryingBackup {
			url = r.BackupURL
			r.Source = model.BackupURL
		}

		attempt++
		r.Attempts++
		res = w.Fetcher.Fetch(ctx, url)
		r.StatusCode = res.StatusCode
		r.ErrorKind = res.Kind
		if res.Success() {
			r.Status = http.StatusText(res.StatusCode)
		} else {
			r.Status = truncateErr(res.Err)
		}

		next := w.Policy.Next(state, attempt, r.BackupURL != "", res)
		switch {
		case next == state:
			w.Metrics.RetryCounter(1)
			slog.Warn("retryable failure. retrying...", slog.String("brnum", r.BRnum),
				slog.String("url", url), slog.Int("attempt", attempt),
				slog.String("err", r.Status))
			select {
			case <-time.After(w.Policy.Backoff(attempt)):
			case <-ctx.Done():
				state = model.Failed
			}
		case next == model.TryingBackup:
			w.Metrics.FallbackCounter(1)
			slog.Warn("primary url exhausted. falling back to backup url.",
				slog.String("brnum", r.BRnum), slog.Int("attempts", attempt))
			attempt = 0
			state = next
		default:
			state = next
		}
	}

	if state == model.Succeeded {
		path, err := w.Storage.Write(ctx, r.BRnum, res.Body)
		if err != nil {
			slog.Error("failed to save pdf.", slog.String("brnum", r.BRnum),
				slog.String("err", err.Error()))
			r.ErrorKind = model.ErrStorageWrite
			r.Status = truncateErr(err)
		} else {
			r.Downloaded = true
			r.StoragePath = path
			if w.Cache != nil {
				w.Cache.MarkDownloaded(r.BRnum, r.StatusCode)
			}
		}
	}

	w.finish(r, startTime)
}

func (w *DownloadWorker) finish(r *model.PDFReport, startTime time.Time) {
	r.TimeToDownload = time.Since(startTime).Milliseconds()
	if r.Downloaded {
		w.Metrics.DownloadedPdfCounter(1)
		slog.Info("pdf downloaded.", slog.String("brnum", r.BRnum),
			slog.String("source", r.Source.String()),
			slog.Int("attempts", r.Attempts),
			slog.Int64("time_ms", r.TimeToDownload))
	} else {
		w.Metrics.FailedDownloadCounter(1)
		slog.Error("download failed.", slog.String("brnum", r.BRnum),
			slog.String("reason", r.ErrorKind.String()),
			slog.Int("status_code", r.StatusCode),
			slog.Int("attempts", r.Attempts))
		if w.KafkaDLQ != nil {
			w.KafkaDLQ.SendFailedReport(r)
		}
	}
	w.ResultChan <- r
}

func truncateErr(err error) string {
	if err == nil {
		return ""
	}
	if len(err.Error()) > 1000 {
		return err.Error()[:1000]
	}
	return err.Error()
}
