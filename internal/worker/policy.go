package worker

import (
	"time"

	"github.com/IliaW/report-downloader/config"
	"github.com/IliaW/report-downloader/internal/model"
)

// RetryPolicy decides what happens after every fetch attempt: retry the
// same url, fall back to the backup url, or stop. The attempt counter is
// per url and includes the first call, so MaxAttempts is the total number
// of fetches a single url can get.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	retryable   map[int]bool
}

func NewRetryPolicy(cfg *config.WorkerConfig) *RetryPolicy {
	retryable := make(map[int]bool, len(cfg.RetryableStatuses))
	for _, code := range cfg.RetryableStatuses {
		retryable[code] = true
	}
	return &RetryPolicy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryDelay,
		retryable:   retryable,
	}
}

// Initial picks the starting state for a record. Records without any
// usable url fail immediately and never hit the network.
func (p *RetryPolicy) Initial(r *model.PDFReport) model.DownloadState {
	switch {
	case r.PdfURL != "":
		return model.TryingPrimary
	case r.BackupURL != "":
		return model.TryingBackup
	default:
		return model.Failed
	}
}

// Next returns the state after an attempt. Returning the same
// non-terminal state means "retry the current url". Calling Next in a
// terminal state is a caller bug and panics.
func (p *RetryPolicy) Next(state model.DownloadState, attempt int, hasBackup bool,
	res *model.AttemptResult) model.DownloadState {
	if state.Terminal() {
		panic("retry policy: Next called in terminal state " + state.String())
	}
	if res.Success() {
		return model.Succeeded
	}
	if p.Retryable(res) && attempt < p.MaxAttempts {
		return state
	}
	if state == model.TryingPrimary && hasBackup {
		return model.TryingBackup
	}
	return model.Failed
}

// Retryable reports whether the attempt failed in a way worth repeating
// on the same url. Content type mismatches and client errors are not:
// the same url will keep returning the same thing.
func (p *RetryPolicy) Retryable(res *model.AttemptResult) bool {
	switch res.Kind {
	case model.ErrNetwork, model.ErrTimeout:
		return true
	case model.ErrHTTP:
		return p.retryable[res.StatusCode]
	default:
		return false
	}
}

// Backoff returns the delay before the next attempt. The delay doubles
// with every finished attempt, starting from BaseDelay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
