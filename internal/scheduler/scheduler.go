package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/IliaW/report-downloader/internal/model"
	"github.com/IliaW/report-downloader/internal/worker"
)

// Pool runs a fixed number of download workers over a shared record
// channel. Concurrency never exceeds workersNum. The result channel is
// closed once the last worker returns, which lets the reporter finish.
type Pool struct {
	workersNum int
	worker     *worker.DownloadWorker
	wg         *sync.WaitGroup
	resultChan chan<- *model.PDFReport
}

func NewPool(workersNum int, w *worker.DownloadWorker, wg *sync.WaitGroup,
	resultChan chan<- *model.PDFReport) *Pool {
	return &Pool{
		workersNum: workersNum,
		worker:     w,
		wg:         wg,
		resultChan: resultChan,
	}
}

func (p *Pool) Run(ctx context.Context) {
	slog.Info("starting download workers.", slog.Int("workers_num", p.workersNum))
	for i := 0; i < p.workersNum; i++ {
		p.wg.Add(1)
		go p.worker.Run(ctx)
	}
	p.wg.Wait()
	close(p.resultChan)
	slog.Info("download workers finished. close resultChan.")
}
