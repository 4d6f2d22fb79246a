package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/IliaW/report-downloader/config"
	"github.com/IliaW/report-downloader/internal/model"
	"github.com/stretchr/testify/assert"
)

func testPolicy() *RetryPolicy {
	return NewRetryPolicy(&config.WorkerConfig{
		RetryAttempts:     3,
		RetryDelay:        time.Second,
		RetryableStatuses: []int{500, 502, 503, 504},
	})
}

func httpFail(code int) *model.AttemptResult {
	return &model.AttemptResult{StatusCode: code, Kind: model.ErrHTTP, Err: errors.New("error status code")}
}

func TestInitialState(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, model.TryingPrimary,
		p.Initial(model.NewPDFReport("BR1", "http://example.com/a.pdf", "http://example.com/b.pdf")))
	assert.Equal(t, model.TryingPrimary,
		p.Initial(model.NewPDFReport("BR2", "http://example.com/a.pdf", "")))
	assert.Equal(t, model.TryingBackup,
		p.Initial(model.NewPDFReport("BR3", "", "http://example.com/b.pdf")))
	assert.Equal(t, model.Failed,
		p.Initial(model.NewPDFReport("BR4", "", "")))
	assert.Equal(t, model.Failed,
		p.Initial(model.NewPDFReport("BR5", "nan", "nan")))
}

func TestNextTransitions(t *testing.T) {
	p := testPolicy()
	ok := &model.AttemptResult{StatusCode: 200, Kind: model.ErrNone}
	netFail := &model.AttemptResult{Kind: model.ErrNetwork, Err: errors.New("connection refused")}
	notPdf := &model.AttemptResult{StatusCode: 200, Kind: model.ErrContentType,
		Err: errors.New("unexpected content type: text/html")}

	tests := []struct {
		name      string
		state     model.DownloadState
		attempt   int
		hasBackup bool
		res       *model.AttemptResult
		want      model.DownloadState
	}{
		{"success on primary", model.TryingPrimary, 1, true, ok, model.Succeeded},
		{"success on backup", model.TryingBackup, 2, false, ok, model.Succeeded},
		{"retryable under limit stays on primary", model.TryingPrimary, 1, true, httpFail(503), model.TryingPrimary},
		{"retryable under limit stays on backup", model.TryingBackup, 2, true, netFail, model.TryingBackup},
		{"retryable at limit falls back", model.TryingPrimary, 3, true, httpFail(500), model.TryingBackup},
		{"retryable at limit without backup fails", model.TryingPrimary, 3, false, httpFail(500), model.Failed},
		{"non-retryable falls back immediately", model.TryingPrimary, 1, true, httpFail(404), model.TryingBackup},
		{"non-retryable without backup fails", model.TryingPrimary, 1, false, httpFail(404), model.Failed},
		{"content type mismatch falls back", model.TryingPrimary, 1, true, notPdf, model.TryingBackup},
		{"backup exhausted fails", model.TryingBackup, 3, true, httpFail(502), model.Failed},
		{"non-retryable on backup fails", model.TryingBackup, 1, true, httpFail(403), model.Failed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Next(tt.state, tt.attempt, tt.hasBackup, tt.res))
		})
	}
}

func TestNextPanicsOnTerminalState(t *testing.T) {
	p := testPolicy()
	ok := &model.AttemptResult{StatusCode: 200, Kind: model.ErrNone}

	assert.Panics(t, func() { p.Next(model.Succeeded, 1, true, ok) })
	assert.Panics(t, func() { p.Next(model.Failed, 1, true, ok) })
}

func TestRetryable(t *testing.T) {
	p := testPolicy()

	assert.True(t, p.Retryable(&model.AttemptResult{Kind: model.ErrNetwork}))
	assert.True(t, p.Retryable(&model.AttemptResult{Kind: model.ErrTimeout}))
	assert.True(t, p.Retryable(httpFail(500)))
	assert.True(t, p.Retryable(httpFail(503)))
	assert.False(t, p.Retryable(httpFail(404)))
	assert.False(t, p.Retryable(httpFail(403)))
	assert.False(t, p.Retryable(&model.AttemptResult{Kind: model.ErrContentType}))
	assert.False(t, p.Retryable(&model.AttemptResult{Kind: model.ErrNoURL}))
}

func TestBackoffDoubles(t *testing.T) {
	p := NewRetryPolicy(&config.WorkerConfig{
		RetryAttempts:     5,
		RetryDelay:        100 * time.Millisecond,
		RetryableStatuses: []int{500},
	})

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	for attempt := 2; attempt <= 5; attempt++ {
		assert.GreaterOrEqual(t, p.Backoff(attempt), p.Backoff(attempt-1))
	}
}
