package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IliaW/report-downloader/config"
	"github.com/IliaW/report-downloader/internal/fetcher"
	"github.com/IliaW/report-downloader/internal/model"
	"github.com/IliaW/report-downloader/internal/storage"
	"github.com/IliaW/report-downloader/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

const pdfBody = "%PDF-1.4 test body"

func testCfg() *config.Config {
	return &config.Config{
		WorkerSettings: &config.WorkerConfig{
			WorkersNum:          2,
			RetryAttempts:       3,
			RetryDelay:          5 * time.Millisecond,
			RetryableStatuses:   []int{500, 502, 503, 504},
			UserAgent:           "report-downloader-test",
			ValidateContentType: true,
		},
		HttpClientSettings: &config.HttpClientConfig{
			RequestTimeout: 2 * time.Second,
		},
	}
}

func noopMetrics() *telemetry.AppMetrics {
	return &telemetry.AppMetrics{
		DownloadedPdfCounter:  func(int64) {},
		FailedDownloadCounter: func(int64) {},
		RetryCounter:          func(int64) {},
		FallbackCounter:       func(int64) {},
		CacheHitCounter:       func(int64) {},
	}
}

func localStorage(t *testing.T) *storage.LocalStorage {
	t.Helper()
	return storage.NewLocalStorage(&config.StorageConfig{DownloadDir: t.TempDir()})
}

func pdfHandler(hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte(pdfBody))
	}
}

func statusHandler(hits *atomic.Int32, code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(code)
	}
}

type failingStorage struct{}

func (failingStorage) Write(context.Context, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

type stubCache struct {
	code   int
	hit    bool
	marked []string
}

func (c *stubCache) IsDownloaded(string) (int, bool) { return c.code, c.hit }

func (c *stubCache) MarkDownloaded(brnum string, _ int) { c.marked = append(c.marked, brnum) }

func (c *stubCache) Close() {}

// runWorker pushes a single record through a worker and returns its
// terminal form.
func runWorker(t *testing.T, r *model.PDFReport, st storage.FileStorage, c *stubCache) *model.PDFReport {
	t.Helper()
	cfg := testCfg()
	recordChan := make(chan *model.PDFReport, 1)
	resultChan := make(chan *model.PDFReport, 1)
	wg := &sync.WaitGroup{}

	w := &DownloadWorker{
		RecordChan: recordChan,
		ResultChan: resultChan,
		Fetcher:    fetcher.NewHTTPFetcher(cfg, &http.Transport{}),
		Policy:     NewRetryPolicy(cfg.WorkerSettings),
		Storage:    st,
		Wg:         wg,
		Metrics:    noopMetrics(),
	}
	if c != nil {
		w.Cache = c
	}

	recordChan <- r
	close(recordChan)
	wg.Add(1)
	w.Run(context.Background())

	return <-resultChan
}

func TestDownloadSucceedsFirstTry(t *testing.T) {
	hits := &atomic.Int32{}
	srv := httptest.NewServer(pdfHandler(hits))
	defer srv.Close()

	res := runWorker(t, model.NewPDFReport("BR50041", srv.URL+"/a.pdf", ""), localStorage(t), nil)

	assert.True(t, res.Downloaded)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "OK", res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, model.PrimaryURL, res.Source)
	assert.EqualValues(t, 1, hits.Load())
	assert.Equal(t, "200", res.CountKey())

	body, err := os.ReadFile(res.StoragePath)
	assert.NoError(t, err)
	assert.Equal(t, pdfBody, string(body))
}

func TestFallbackToBackupAfterRetries(t *testing.T) {
	primaryHits, backupHits := &atomic.Int32{}, &atomic.Int32{}
	primary := httptest.NewServer(statusHandler(primaryHits, http.StatusServiceUnavailable))
	defer primary.Close()
	backup := httptest.NewServer(pdfHandler(backupHits))
	defer backup.Close()

	res := runWorker(t, model.NewPDFReport("BR2", primary.URL, backup.URL), localStorage(t), nil)

	assert.True(t, res.Downloaded)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, model.BackupURL, res.Source)
	assert.EqualValues(t, 3, primaryHits.Load())
	assert.EqualValues(t, 1, backupHits.Load())
	assert.Equal(t, 4, res.Attempts)
}

func TestNonRetryableFailsWithoutBackup(t *testing.T) {
	hits := &atomic.Int32{}
	srv := httptest.NewServer(statusHandler(hits, http.StatusNotFound))
	defer srv.Close()

	res := runWorker(t, model.NewPDFReport("BR3", srv.URL, ""), localStorage(t), nil)

	assert.False(t, res.Downloaded)
	assert.Equal(t, 404, res.StatusCode)
	assert.Equal(t, 1, res.Attempts)
	assert.EqualValues(t, 1, hits.Load())
	assert.Equal(t, "404", res.CountKey())
	assert.Equal(t, "No", res.DownloadedCell())
}

func TestNetworkErrorRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(pdfHandler(nil))
	url := srv.URL
	srv.Close() // connection refused from here on

	res := runWorker(t, model.NewPDFReport("BR4", url, ""), localStorage(t), nil)

	assert.False(t, res.Downloaded)
	assert.Equal(t, 0, res.StatusCode)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, model.ErrNetwork, res.ErrorKind)
	assert.Equal(t, "network_error", res.CountKey())
	assert.Equal(t, "N/A", res.StatusCodeCell())
}

func TestContentTypeMismatchFails(t *testing.T) {
	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not a pdf</html>"))
	}))
	defer srv.Close()

	res := runWorker(t, model.NewPDFReport("BR5", srv.URL, ""), localStorage(t), nil)

	assert.False(t, res.Downloaded)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, model.ErrContentType, res.ErrorKind)
	assert.Equal(t, "not_a_pdf", res.CountKey())
	assert.EqualValues(t, 1, hits.Load(), "content type mismatch must not be retried")
}

func TestStorageFailureIsDistinguishable(t *testing.T) {
	srv := httptest.NewServer(pdfHandler(nil))
	defer srv.Close()

	res := runWorker(t, model.NewPDFReport("BR6", srv.URL, ""), failingStorage{}, nil)

	assert.False(t, res.Downloaded)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, model.ErrStorageWrite, res.ErrorKind)
	assert.Equal(t, "write_error", res.CountKey())
}

func TestRecordWithoutUrlsFailsWithoutNetwork(t *testing.T) {
	res := runWorker(t, model.NewPDFReport("BR7", "", "nan"), localStorage(t), nil)

	assert.False(t, res.Downloaded)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, model.ErrNoURL, res.ErrorKind)
	assert.Equal(t, "no_url", res.CountKey())
	assert.Equal(t, "N/A", res.StatusCodeCell())
}

func TestCacheHitSkipsDownload(t *testing.T) {
	hits := &atomic.Int32{}
	srv := httptest.NewServer(pdfHandler(hits))
	defer srv.Close()

	c := &stubCache{code: 200, hit: true}
	res := runWorker(t, model.NewPDFReport("BR8", srv.URL, ""), localStorage(t), c)

	assert.True(t, res.Downloaded)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, model.CachedCopy, res.Source)
	assert.Equal(t, 0, res.Attempts)
	assert.EqualValues(t, 0, hits.Load())
}

func TestSuccessIsMarkedInCache(t *testing.T) {
	srv := httptest.NewServer(pdfHandler(nil))
	defer srv.Close()

	c := &stubCache{}
	res := runWorker(t, model.NewPDFReport("BR9", srv.URL, ""), localStorage(t), c)

	assert.True(t, res.Downloaded)
	assert.Equal(t, []string{"BR9"}, c.marked)
}
