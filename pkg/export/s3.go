package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/crossfield/ssobroker/pkg/storage"
)

var tracer = otel.Tracer("ssobroker/export")

// UploadMetrics receives one record per upload attempt.
type UploadMetrics interface {
	RecordExportUpload(ctx context.Context, bytes int64, duration time.Duration, err error)
}

// S3Uploader ships finished exports to an S3-compatible object store
// (AWS S3 or MinIO for local development).
type S3Uploader struct {
	client  *s3.Client
	bucket  string
	metrics UploadMetrics
}

// SetMetrics attaches an upload recorder. Nil disables recording.
func (u *S3Uploader) SetMetrics(m UploadMetrics) {
	u.metrics = m
}

// NewS3Uploader creates an uploader from the storage S3 settings. With
// explicit access keys a static credential provider is used; otherwise the
// default AWS credential chain applies.
func NewS3Uploader(ctx context.Context, cfg storage.Config) (*S3Uploader, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var awsCfg aws.Config
	var err error

	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{client: client, bucket: cfg.S3Bucket}, nil
}

// Upload writes one export object. The SHA-256 checksum of the content is
// attached as object metadata.
func (u *S3Uploader) Upload(ctx context.Context, key string, content []byte) error {
	ctx, span := tracer.Start(ctx, "Export.Upload",
		trace.WithAttributes(
			attribute.String("s3.bucket", u.bucket),
			attribute.String("s3.key", key),
			attribute.Int("content.size", len(content)),
		),
	)
	defer span.End()

	hash := sha256.Sum256(content)
	checksum := hex.EncodeToString(hash[:])

	start := time.Now()
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
		},
	})
	if u.metrics != nil {
		u.metrics.RecordExportUpload(ctx, int64(len(content)), time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload export")
		return fmt.Errorf("failed to upload export to s3: %w", err)
	}

	span.SetStatus(codes.Ok, "export uploaded")
	return nil
}

// HealthCheck verifies bucket reachability.
func (u *S3Uploader) HealthCheck(ctx context.Context) error {
	_, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(u.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}
