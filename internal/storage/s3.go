package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"metricwatch/internal/logger"
	"metricwatch/internal/metrics"
)

// S3Config locates the archive object
type S3Config struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string // MinIO or LocalStack
}

// Uploader is the subset of manager.Uploader used by S3Archiver
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver uploads the history document to a fixed object key, overwriting
// the previous copy.
type S3Archiver struct {
	uploader Uploader
	bucket   string
	key      string
}

// NewS3Archiver builds an archiver from the default AWS credential chain
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3ArchiverWithUploader(manager.NewUploader(client), cfg), nil
}

// NewS3ArchiverWithUploader builds an archiver around an existing uploader
func NewS3ArchiverWithUploader(u Uploader, cfg S3Config) *S3Archiver {
	key := cfg.Key
	if key == "" {
		key = "metric_values.json"
	}
	return &S3Archiver{uploader: u, bucket: cfg.Bucket, key: key}
}

func (a *S3Archiver) Archive(ctx context.Context, payload []byte) error {
	out, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		metrics.ArchiveUploadsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("upload s3://%s/%s: %w", a.bucket, a.key, err)
	}
	metrics.ArchiveUploadsTotal.WithLabelValues("success").Inc()

	log := logger.WithComponent("archive")
	log.Debug().
		Str("bucket", a.bucket).
		Str("key", a.key).
		Str("location", out.Location).
		Int("bytes", len(payload)).
		Msg("History archived")
	return nil
}
