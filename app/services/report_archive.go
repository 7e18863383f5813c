package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/amirphl/metal-price-sync/config"
	"github.com/amirphl/metal-price-sync/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ObjectUploader is the subset of *minio.Client used by the archive.
type ObjectUploader interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewMinioClient connects to an S3-compatible store.
func NewMinioClient(cfg config.StorageConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return client, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// ReportArchive uploads the summary JSON and the workbook of every run,
// keyed by finish date and run id.
type ReportArchive struct {
	uploader ObjectUploader
	bucket   string
	prefix   string
	logger   *zap.Logger
}

func NewReportArchive(uploader ObjectUploader, bucket, prefix string, logger *zap.Logger) *ReportArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportArchive{uploader: uploader, bucket: bucket, prefix: prefix, logger: logger}
}

func (a *ReportArchive) Name() string { return "archive" }

// ObjectKey returns the archive key of a run artifact with the given extension.
func (a *ReportArchive) ObjectKey(r *models.RunReport, ext string) string {
	day := r.FinishedAt.UTC().Format("2006/01/02")
	return path.Join(strings.TrimSuffix(a.prefix, "/"), day, r.RunID.String()+"."+ext)
}

func (a *ReportArchive) Deliver(ctx context.Context, report *models.RunReport) error {
	summary, err := MarshalSummary(report)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	workbook, err := BuildWorkbook(report)
	if err != nil {
		return err
	}

	objects := []struct {
		ext         string
		contentType string
		data        []byte
	}{
		{"json", "application/json", summary},
		{"xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", workbook},
	}
	for _, o := range objects {
		key := a.ObjectKey(report, o.ext)
		_, err := a.uploader.PutObject(ctx, a.bucket, key, bytes.NewReader(o.data), int64(len(o.data)), minio.PutObjectOptions{
			ContentType: o.contentType,
			UserMetadata: map[string]string{
				"run-id":  report.RunID.String(),
				"outcome": string(report.Outcome()),
			},
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		a.logger.Info("run artifact archived", zap.String("bucket", a.bucket), zap.String("key", key))
	}
	return nil
}
