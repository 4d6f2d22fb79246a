package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/IliaW/report-downloader/config"
	"github.com/IliaW/report-downloader/internal/model"
	"github.com/IliaW/report-downloader/internal/telemetry"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress/lz4"
)

// RecordConsumerClient feeds the worker pool from a kafka topic instead of
// a file. Each message is a json DownloadTask. Runs until the context is
// cancelled, then closes the record channel so the pipeline can drain.
type RecordConsumerClient struct {
	recordChan chan<- *model.PDFReport
	metrics    *telemetry.KafkaConsumerMetrics
	cfg        *config.ConsumerConfig
	wg         *sync.WaitGroup
}

func NewKafkaConsumer(recordChan chan<- *model.PDFReport, metrics *telemetry.KafkaConsumerMetrics,
	cfg *config.ConsumerConfig, wg *sync.WaitGroup) *RecordConsumerClient {
	return &RecordConsumerClient{
		recordChan: recordChan,
		metrics:    metrics,
		cfg:        cfg,
		wg:         wg,
	}
}

func (c *RecordConsumerClient) Run(ctx context.Context) {
	slog.Info("starting kafka consumer.", slog.String("topic", c.cfg.ReadTopicName))
	defer c.wg.Done()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:          c.cfg.Brokers,
		Topic:            c.cfg.ReadTopicName,
		GroupID:          c.cfg.GroupID,
		MaxWait:          c.cfg.MaxWait,
		ReadBatchTimeout: c.cfg.ReadBatchTimeout,
		QueueCapacity:    c.cfg.QueueCapacity,
		MaxBytes:         c.cfg.MaxBytes,
		CommitInterval:   c.cfg.CommitInterval,
	})

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping kafka reader.")
			err := r.Close()
			if err != nil {
				slog.Error("failed to close kafka reader.", slog.String("err", err.Error()))
			}
			close(c.recordChan)
			slog.Info("close recordChan.")
			return
		default:
			m, err := r.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					slog.Info("kafka reader stopped.")
					continue
				}
				slog.Error("failed to fetch message from kafka.", slog.String("err", err.Error()))
				c.metrics.FailedReadMsgCnt(1)
				continue
			}
			err = r.CommitMessages(context.Background(), m)
			if err != nil {
				slog.Error("failed to commit messages.", slog.String("err", err.Error()))
				c.metrics.FailedReadMsgCnt(1)
				continue
			}

			var task model.DownloadTask
			if err = jsoniter.Unmarshal(m.Value, &task); err != nil {
				slog.Error("failed to unmarshal message.", slog.String("err", err.Error()))
				c.metrics.FailedReadMsgCnt(1)
				continue
			}
			slog.Debug("successfully read message from kafka.", slog.String("brnum", task.BRnum))

			c.recordChan <- model.NewPDFReport(task.BRnum, task.PdfURL, task.BackupURL)
			c.metrics.SuccessfullyReadMsgCnt(1)
		}
	}
}

// KafkaDLQClient publishes records that ended in a terminal failure so
// another run or system can pick them up.
type KafkaDLQClient struct {
	kafkaWriter *kafka.Writer
	metrics     *telemetry.KafkaProducerMetrics
	cfg         *config.ProducerConfig
}

type dlqMessage struct {
	BRnum  string `json:"brnum"`
	Url    string `json:"url"`
	Reason string `json:"reason"`
}

func NewKafkaDLQ(metrics *telemetry.KafkaProducerMetrics, cfg *config.ProducerConfig) *KafkaDLQClient {
	kafkaWriter := kafka.Writer{
		Addr:         kafka.TCP(cfg.Addr...),
		Topic:        cfg.DeadLetterTopicName,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAsks),
		Async:        cfg.Async,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("failed to send messages to kafka.", slog.String("err", err.Error()))
			}
		},
		Compression: kafka.Compression(new(lz4.Codec).Code()),
	}
	return &KafkaDLQClient{
		kafkaWriter: &kafkaWriter,
		metrics:     metrics,
		cfg:         cfg,
	}
}

func (d *KafkaDLQClient) SendFailedReport(r *model.PDFReport) {
	url := r.PdfURL
	if r.Source == model.BackupURL {
		url = r.BackupURL
	}
	body, err := jsoniter.Marshal(&dlqMessage{
		BRnum:  r.BRnum,
		Url:    url,
		Reason: r.ErrorKind.String() + ": " + r.Status,
	})
	if err != nil {
		slog.Error("marshaling error.", slog.String("err", err.Error()), slog.String("brnum", r.BRnum))
		d.metrics.FailedSendMsgCnt(1)
		return
	}

	err = d.kafkaWriter.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(r.BRnum),
		Value: body,
	})
	if err != nil {
		slog.Error("failed to send message to dlq.", slog.String("err", err.Error()))
		d.metrics.FailedSendMsgCnt(1)
		return
	}
	d.metrics.SuccessfullySendMsgCnt(1)
	slog.Debug("failed record sent to dlq.", slog.String("brnum", r.BRnum))
}

func (d *KafkaDLQClient) Close() {
	err := d.kafkaWriter.Close()
	if err != nil {
		slog.Error("failed to close kafka writer.", slog.String("err", err.Error()))
	}
}
