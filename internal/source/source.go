package source

import (
	"context"
	"encoding/csv"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/IliaW/report-downloader/config"
	"github.com/IliaW/report-downloader/internal/model"
	"github.com/xuri/excelize/v2"
)

// FileSource reads records from an xlsx or csv file and feeds them to the
// download workers. The file format is picked by extension. The record
// channel is closed when the file is exhausted or the context is done.
type FileSource struct {
	recordChan chan<- *model.PDFReport
	cfg        *config.SourceConfig
	wg         *sync.WaitGroup
}

func NewFileSource(recordChan chan<- *model.PDFReport, cfg *config.SourceConfig,
	wg *sync.WaitGroup) *FileSource {
	if _, err := os.Stat(cfg.FilePath); err != nil {
		slog.Error("source file not found.", slog.String("path", cfg.FilePath),
			slog.String("err", err.Error()))
		os.Exit(1)
	}
	ext := strings.ToLower(filepath.Ext(cfg.FilePath))
	if ext != ".xlsx" && ext != ".xlsm" && ext != ".csv" {
		slog.Error("unsupported source file type.", slog.String("path", cfg.FilePath))
		os.Exit(1)
	}
	return &FileSource{
		recordChan: recordChan,
		cfg:        cfg,
		wg:         wg,
	}
}

func (s *FileSource) Run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.recordChan)
	slog.Info("reading records.", slog.String("path", s.cfg.FilePath))

	var records []*model.PDFReport
	var err error
	if strings.ToLower(filepath.Ext(s.cfg.FilePath)) == ".csv" {
		records, err = s.readCsv()
	} else {
		records, err = s.readXlsx()
	}
	if err != nil {
		slog.Error("failed to read source file.", slog.String("path", s.cfg.FilePath),
			slog.String("err", err.Error()))
		return
	}
	slog.Info("records parsed.", slog.Int("count", len(records)))

	for _, r := range records {
		select {
		case s.recordChan <- r:
		case <-ctx.Done():
			slog.Info("stopping file source.")
			return
		}
	}
}

func (s *FileSource) readXlsx() ([]*model.PDFReport, error) {
	f, err := excelize.OpenFile(s.cfg.FilePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("failed to close source file.", slog.String("err", err.Error()))
		}
	}()

	sheet := s.cfg.SheetName
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}

	return s.buildRecords(rows)
}

func (s *FileSource) readCsv() ([]*model.PDFReport, error) {
	f, err := os.Open(s.cfg.FilePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	return s.buildRecords(rows)
}

// buildRecords maps the header row to column indexes and turns every data
// row with a non-empty identifier into a record. Rows without an
// identifier are skipped, rows without urls are kept and fail later.
func (s *FileSource) buildRecords(rows [][]string) ([]*model.PDFReport, error) {
	if len(rows) == 0 {
		return nil, errors.New("source file has no rows")
	}

	header := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		header[strings.TrimSpace(name)] = i
	}
	idIdx, ok := header[s.cfg.IdColumn]
	if !ok {
		return nil, errors.New("missing column: " + s.cfg.IdColumn)
	}
	urlIdx, ok := header[s.cfg.UrlColumn]
	if !ok {
		return nil, errors.New("missing column: " + s.cfg.UrlColumn)
	}
	backupIdx, hasBackup := header[s.cfg.BackupUrlColumn]

	records := make([]*model.PDFReport, 0, len(rows)-1)
	for _, row := range rows[1:] {
		brnum := cell(row, idIdx)
		if brnum == "" {
			continue
		}
		backup := ""
		if hasBackup {
			backup = cell(row, backupIdx)
		}
		records = append(records, model.NewPDFReport(brnum, cell(row, urlIdx), backup))
	}

	return records, nil
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}
