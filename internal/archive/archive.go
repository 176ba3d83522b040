// Package archive copies per-call artifacts to S3-compatible object storage.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"voice-qa-go/internal/config"
	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/metrics"
)

// Archiver uploads under calls/<call_id>/. A zero Archiver is disabled.
type Archiver struct {
	client *minio.Client
	bucket string
	log    *logger.Logger
}

// New connects to cfg.Endpoint and ensures the bucket exists. An empty
// endpoint returns a disabled Archiver.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archiver, error) {
	log := logger.New().WithComponent("archive")
	if cfg.Endpoint == "" {
		log.Info("object storage not configured, archiving disabled")
		return &Archiver{log: log}, nil
	}
	if cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY_ID, MINIO_SECRET_ACCESS_KEY and MINIO_BUCKET_NAME must be set when MINIO_ENDPOINT is")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket %q exists: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.Bucket, err)
		}
		log.WithField("bucket", cfg.Bucket).Info("bucket created")
	}
	return &Archiver{client: client, bucket: cfg.Bucket, log: log}, nil
}

func (a *Archiver) Enabled() bool { return a != nil && a.client != nil }

// ObjectKey is the object name for a local artifact of callID.
func ObjectKey(callID int64, file string) string {
	return path.Join("calls", fmt.Sprint(callID), filepath.Base(file))
}

// ArchiveRun uploads files and returns the object keys written. It stops at
// the first failed upload.
func (a *Archiver) ArchiveRun(ctx context.Context, callID int64, files []string) ([]string, error) {
	if !a.Enabled() {
		return nil, nil
	}
	var keys []string
	for _, f := range files {
		if f == "" {
			continue
		}
		key := ObjectKey(callID, f)
		err := a.put(ctx, key, f)
		metrics.DefaultMetrics.RecordArchiveUpload(err)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	a.log.WithField("call_id", callID).WithField("objects", len(keys)).Info("run archived")
	return keys, nil
}

func (a *Archiver) put(ctx context.Context, key, file string) error {
	fh, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer fh.Close()
	st, err := fh.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	_, err = a.client.PutObject(ctx, a.bucket, key, fh, st.Size(), minio.PutObjectOptions{
		ContentType: ContentType(file),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to bucket %s: %w", key, a.bucket, err)
	}
	return nil
}

func ContentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".csv":
		return "text/csv"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
