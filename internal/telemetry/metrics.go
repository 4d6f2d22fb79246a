package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"

	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/IliaW/report-downloader/config"
	"github.com/google/uuid"
)

var meter metric.Meter

type MetricsProvider struct {
	KafkaConsumerMetrics *KafkaConsumerMetrics
	KafkaProducerMetrics *KafkaProducerMetrics
	AppMetrics           *AppMetrics
	Close                func()
}

type KafkaConsumerMetrics struct {
	SuccessfullyReadMsgCnt func(count int64)
	FailedReadMsgCnt       func(count int64)
}

type KafkaProducerMetrics struct {
	SuccessfullySendMsgCnt func(count int64)
	FailedSendMsgCnt       func(count int64)
}

type AppMetrics struct {
	DownloadedPdfCounter  func(count int64)
	FailedDownloadCounter func(count int64)
	RetryCounter          func(count int64)
	FallbackCounter       func(count int64)
	CacheHitCounter       func(count int64)
}

func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	metricsProvider := new(MetricsProvider)
	var meterProvider *sdkmetric.MeterProvider

	if cfg.TelemetrySettings.Enabled {
		r, err := newResource(cfg)
		if err != nil {
			slog.Error("failed to get resource.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		exporter, err := newMetricExporter(ctx, cfg.TelemetrySettings)
		if err != nil {
			slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		meterProvider = newMeterProvider(exporter, *r)
		otel.SetMeterProvider(meterProvider)
	}

	meter = otel.Meter(cfg.ServiceName)
	metricsProvider.Close = func() {
		if meterProvider != nil {
			err := meterProvider.Shutdown(ctx)
			if err != nil {
				slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
			}
		}
	}

	// Set up kafka consumer metrics
	kafkaConsumerSuccessCounter, err := meter.Int64Counter("report-downloader.kafka.read.success",
		metric.WithDescription("The number of messages that the kafka consumer successfully processed"),
		metric.WithUnit("{messages}"))
	kafkaConsumerFailCounter, err := meter.Int64Counter("report-downloader.kafka.read.fail",
		metric.WithDescription("The number of messages that the kafka consumer could not process"),
		metric.WithUnit("{messages}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for kafka consumer.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.KafkaConsumerMetrics = &KafkaConsumerMetrics{
		SuccessfullyReadMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaConsumerSuccessCounter.Add(ctx, count)
			}
		},
		FailedReadMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaConsumerFailCounter.Add(ctx, count)
			}
		},
	}

	// Set up kafka producer metrics
	kafkaProducerSuccessCounter, err := meter.Int64Counter("report-downloader.kafka.send.success",
		metric.WithDescription("The number of messages that the dlq producer successfully sent"),
		metric.WithUnit("{messages}"))
	kafkaProducerFailCounter, err := meter.Int64Counter("report-downloader.kafka.send.fail",
		metric.WithDescription("The number of messages that the dlq producer could not send"),
		metric.WithUnit("{messages}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for kafka producer.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.KafkaProducerMetrics = &KafkaProducerMetrics{
		SuccessfullySendMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaProducerSuccessCounter.Add(ctx, count)
			}
		},
		FailedSendMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaProducerFailCounter.Add(ctx, count)
			}
		},
	}

	// Set up worker metrics
	downloadedCounter, err := meter.Int64Counter("report-downloader.pdf.downloaded",
		metric.WithDescription("The number of pdf files successfully downloaded and stored"),
		metric.WithUnit("{records}"))
	failedCounter, err := meter.Int64Counter("report-downloader.pdf.failed",
		metric.WithDescription("The number of records that ended in a terminal failure"),
		metric.WithUnit("{records}"))
	retryCounter, err := meter.Int64Counter("report-downloader.pdf.retries",
		metric.WithDescription("The number of repeated fetch attempts on the same url"),
		metric.WithUnit("{attempts}"))
	fallbackCounter, err := meter.Int64Counter("report-downloader.pdf.fallback",
		metric.WithDescription("The number of records that fell back to the backup url"),
		metric.WithUnit("{records}"))
	cacheHitCounter, err := meter.Int64Counter("report-downloader.cache.hit",
		metric.WithDescription("The number of records skipped because the pdf was downloaded by an earlier run"),
		metric.WithUnit("{records}"))
	if err != nil {
		slog.Error("failed to create telemetry counters fo worker.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.AppMetrics = &AppMetrics{
		DownloadedPdfCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				downloadedCounter.Add(ctx, count)
			}
		},
		FailedDownloadCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				failedCounter.Add(ctx, count)
			}
		},
		RetryCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				retryCounter.Add(ctx, count)
			}
		},
		FallbackCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				fallbackCounter.Add(ctx, count)
			}
		},
		CacheHitCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				cacheHitCounter.Add(ctx, count)
			}
		},
	}

	// initialize metrics in DataDog for setup UI
	if cfg.TelemetrySettings.Enabled {
		metricsProvider.KafkaProducerMetrics.SuccessfullySendMsgCnt(1)
		metricsProvider.KafkaProducerMetrics.FailedSendMsgCnt(1)
		metricsProvider.KafkaConsumerMetrics.SuccessfullyReadMsgCnt(1)
		metricsProvider.KafkaConsumerMetrics.FailedReadMsgCnt(1)
		metricsProvider.AppMetrics.DownloadedPdfCounter(1)
		metricsProvider.AppMetrics.FailedDownloadCounter(1)
		metricsProvider.AppMetrics.RetryCounter(1)
		metricsProvider.AppMetrics.FallbackCounter(1)
		metricsProvider.AppMetrics.CacheHitCounter(1)
	}

	return metricsProvider
}

func newResource(cfg *config.Config) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(context.Background())
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	keyValue, found := ecsResource.Set().Value("container.id")
	var serviceId string
	if found {
		serviceId = keyValue.AsString()
	} else {
		serviceId = uuid.New().String()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceId),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
	return meterProvider
}
