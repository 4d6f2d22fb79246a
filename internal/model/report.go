package model

import (
	"net/url"
	"strconv"
	"strings"
)

type URLSource int

const (
	PrimaryURL URLSource = iota
	BackupURL
	CachedCopy
)

func (us URLSource) String() string {
	return [...]string{"primary", "backup", "cache"}[us]
}

type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrNetwork
	ErrTimeout
	ErrHTTP
	ErrContentType
	ErrNoURL
	ErrStorageWrite
)

func (ek ErrorKind) String() string {
	return [...]string{"none", "network_error", "timeout", "http_error", "not_a_pdf", "no_url", "write_error"}[ek]
}

type DownloadState int

const (
	TryingPrimary DownloadState = iota
	TryingBackup
	Succeeded
	Failed
)

func (ds DownloadState) String() string {
	return [...]string{"trying primary", "trying backup", "succeeded", "failed"}[ds]
}

// Terminal reports whether no further download attempts will happen.
func (ds DownloadState) Terminal() bool {
	return ds == Succeeded || ds == Failed
}

// PDFReport is one unit of work: an identifier mapped to a primary and an
// optional backup URL, plus the outcome fields filled in by the worker that
// owns the record. A report is mutated by exactly one worker.
type PDFReport struct {
	BRnum          string    `json:"brnum"`
	PdfURL         string    `json:"pdf_url"`
	BackupURL      string    `json:"backup_url,omitempty"`
	Downloaded     bool      `json:"downloaded"`
	StatusCode     int       `json:"status_code"` // 0 until a response is observed
	Status         string    `json:"status"`
	ErrorKind      ErrorKind `json:"-"`
	Source         URLSource `json:"url_source"`
	Attempts       int       `json:"attempts"`
	TimeToDownload int64     `json:"time_to_download"` // in milliseconds
	StoragePath    string    `json:"storage_path,omitempty"`
}

// CountKey is the key a terminal report contributes to the status-code count
// table. Records that got an HTTP verdict are keyed by the numeric code;
// everything else is keyed by a synthetic failure name.
func (r *PDFReport) CountKey() string {
	if r.ErrorKind == ErrNone || r.ErrorKind == ErrHTTP {
		return strconv.Itoa(r.StatusCode)
	}
	return r.ErrorKind.String()
}

// StatusCodeCell is the status-code column value for the per-record report.
func (r *PDFReport) StatusCodeCell() string {
	if r.StatusCode == 0 {
		return "N/A"
	}
	return strconv.Itoa(r.StatusCode)
}

// DownloadedCell is the Yes/No column value for the per-record report.
func (r *PDFReport) DownloadedCell() string {
	if r.Downloaded {
		return "Yes"
	}
	return "No"
}

// NewPDFReport builds a record from raw source values. URLs are normalized
// and validated here so the download pipeline only ever sees usable URLs or
// empty strings; a record left with no URL at all resolves to an immediate
// failure without a network attempt.
func NewPDFReport(brnum, pdfURL, backupURL string) *PDFReport {
	return &PDFReport{
		BRnum:     strings.TrimSpace(brnum),
		PdfURL:    normalizeURL(pdfURL),
		BackupURL: normalizeURL(backupURL),
	}
}

// HasURL reports whether the record has at least one usable URL.
func (r *PDFReport) HasURL() bool {
	return r.PdfURL != "" || r.BackupURL != ""
}

// normalizeURL trims the raw cell value, drops spreadsheet placeholders,
// prepends a scheme when missing and blanks anything that still does not
// parse to an absolute URL with a host.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "nan") {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.String()
}

// AttemptResult is the outcome of a single fetch attempt. It is transient:
// the retry policy consumes it and only the terminal verdict survives on the
// PDFReport.
type AttemptResult struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Kind        ErrorKind
	Err         error
}

// Success reports whether the attempt produced a usable PDF body.
func (ar *AttemptResult) Success() bool {
	return ar.Kind == ErrNone
}

// DownloadTask is the wire format for records arriving over kafka.
type DownloadTask struct {
	BRnum     string `json:"brnum"`
	PdfURL    string `json:"pdf_url"`
	BackupURL string `json:"backup_url,omitempty"`
}
