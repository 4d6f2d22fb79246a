package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IliaW/report-downloader/config"
	"github.com/IliaW/report-downloader/internal/model"
	"github.com/stretchr/testify/assert"
)

func testFetcher(timeout time.Duration, validate bool) *HTTPFetcher {
	return NewHTTPFetcher(&config.Config{
		WorkerSettings: &config.WorkerConfig{
			UserAgent:           "report-downloader-test",
			ValidateContentType: validate,
		},
		HttpClientSettings: &config.HttpClientConfig{
			RequestTimeout: timeout,
		},
	}, &http.Transport{})
}

func TestFetchSuccess(t *testing.T) {
	var gotUserAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	res := testFetcher(time.Second, true).Fetch(context.Background(), srv.URL)

	assert.True(t, res.Success())
	assert.Equal(t, model.ErrNone, res.Kind)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "application/pdf", res.ContentType)
	assert.Equal(t, "%PDF-1.4", string(res.Body))
	assert.Equal(t, "report-downloader-test", gotUserAgent)
}

func TestFetchErrorStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := testFetcher(time.Second, true).Fetch(context.Background(), srv.URL)

	assert.False(t, res.Success())
	assert.Equal(t, model.ErrHTTP, res.Kind)
	assert.Equal(t, 503, res.StatusCode)
	assert.ErrorContains(t, res.Err, "error status code: 503")
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	res := testFetcher(30*time.Millisecond, true).Fetch(context.Background(), srv.URL)

	assert.Equal(t, model.ErrTimeout, res.Kind)
	assert.Error(t, res.Err)
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := testFetcher(time.Second, true).Fetch(context.Background(), url)

	assert.Equal(t, model.ErrNetwork, res.Kind)
	assert.Error(t, res.Err)
}

func TestFetchContentTypeValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	res := testFetcher(time.Second, true).Fetch(context.Background(), srv.URL)
	assert.Equal(t, model.ErrContentType, res.Kind)
	assert.Equal(t, 200, res.StatusCode)
	assert.ErrorContains(t, res.Err, "unexpected content type")

	// validation off: any 2xx body is accepted
	res = testFetcher(time.Second, false).Fetch(context.Background(), srv.URL)
	assert.True(t, res.Success())
	assert.Equal(t, "<html></html>", string(res.Body))
}

func TestFetchContentTypeWithParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", `application/pdf; name="report.pdf"`)
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	res := testFetcher(time.Second, true).Fetch(context.Background(), srv.URL)

	assert.True(t, res.Success())
}

func TestFetchUnusableUrl(t *testing.T) {
	res := testFetcher(time.Second, true).Fetch(context.Background(), "://no-scheme")

	assert.Equal(t, model.ErrNoURL, res.Kind)
	assert.Error(t, res.Err)
}
