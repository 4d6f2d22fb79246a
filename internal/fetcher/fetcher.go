package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"

	"github.com/IliaW/report-downloader/config"
	"github.com/IliaW/report-downloader/internal/model"
)

const pdfMediaType = "application/pdf"

// Fetcher makes exactly one GET attempt per call. Retries and url
// fallback are the worker's job.
type Fetcher interface {
	Fetch(ctx context.Context, url string) *model.AttemptResult
}

type HTTPFetcher struct {
	client              *http.Client
	userAgent           string
	validateContentType bool
}

func NewHTTPFetcher(cfg *config.Config, transport *http.Transport) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.HttpClientSettings.RequestTimeout,
		},
		userAgent:           cfg.WorkerSettings.UserAgent,
		validateContentType: cfg.WorkerSettings.ValidateContentType,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) *model.AttemptResult {
	slog.Debug("fetching url.", slog.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &model.AttemptResult{Kind: model.ErrNoURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return &model.AttemptResult{Kind: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body) // drain to reuse the connection
		return &model.AttemptResult{
			StatusCode:  resp.StatusCode,
			ContentType: contentType,
			Kind:        model.ErrHTTP,
			Err:         errors.New("error status code: " + strconv.Itoa(resp.StatusCode)),
		}
	}

	if f.validateContentType {
		mediaType, _, parseErr := mime.ParseMediaType(contentType)
		if parseErr != nil || mediaType != pdfMediaType {
			_, _ = io.Copy(io.Discard, resp.Body)
			return &model.AttemptResult{
				StatusCode:  resp.StatusCode,
				ContentType: contentType,
				Kind:        model.ErrContentType,
				Err:         errors.New("unexpected content type: " + contentType),
			}
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &model.AttemptResult{
			StatusCode:  resp.StatusCode,
			ContentType: contentType,
			Kind:        classifyTransportError(err),
			Err:         err,
		}
	}

	return &model.AttemptResult{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: contentType,
	}
}

func classifyTransportError(err error) model.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrTimeout
	}
	return model.ErrNetwork
}
