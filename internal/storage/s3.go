package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/IliaW/report-downloader/config"
	"github.com/IliaW/report-downloader/internal"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Storage struct {
	client *s3.Client
	cfg    *config.Config
}

func NewS3Storage(cfg *config.Config) *S3Storage {
	slog.Info("connecting to s3...")

	c, err := connect(cfg)
	if err != nil {
		slog.Error("failed to connect to s3.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &S3Storage{
		client: c,
		cfg:    cfg,
	}
}

func (s *S3Storage) Write(ctx context.Context, brnum string, body []byte) (string, error) {
	s3Key := fmt.Sprintf("%s/%s.pdf", s.cfg.S3Settings.KeyPrefix, internal.FileName(brnum))
	contentType := "application/pdf"

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.cfg.S3Settings.BucketName,
		Key:         &s3Key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		slog.Error("failed to save pdf to s3.", slog.String("err", err.Error()))
		return "", err
	}
	slog.Debug("pdf saved to s3.", slog.String("key", s3Key))

	return s3Key, nil
}

func connect(cfg *config.Config) (*s3.Client, error) {
	s3Config, err := awsCfg.LoadDefaultConfig(context.Background(), awsCfg.WithRegion(cfg.S3Settings.Region))
	if err != nil {
		slog.Error("failed to load s3 config.", slog.String("err", err.Error()))
		return nil, err
	}

	if cfg.Env == "local" {
		s3Config.BaseEndpoint = &cfg.S3Settings.AwsBaseEndpoint // for LocalStack
		s3Config.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
		// LocalStack does not support `virtual host addressing style` that uses s3 by default.
		// For test purposes use configuration with disabled 'virtual hosted bucket addressing'.
		// Set 'local' Env variable to use this configuration.
		slog.Warn("test configuration for S3")
		return s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		}), nil
	}

	return s3.NewFromConfig(s3Config), nil
}
