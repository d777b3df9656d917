package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Archiver keeps an off-database copy of every delivered summary.
// Uploads go to S3 when a bucket is configured, otherwise to local disk.
type Archiver struct {
	dest   uploader
	logger *zap.SugaredLogger
}

// New constructs an archiver. With an empty bucket the local directory
// is used; an empty directory falls back to ./archive.
func New(ctx context.Context, bucket, region, localDir string, logger *zap.SugaredLogger) (*Archiver, error) {
	if bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return &Archiver{
			dest:   &s3Uploader{client: s3.NewFromConfig(awsCfg), bucket: bucket},
			logger: logger,
		}, nil
	}
	if localDir == "" {
		localDir = "./archive"
	}
	return &Archiver{dest: &localUploader{baseDir: localDir}, logger: logger}, nil
}

// Archive stores the summary content keyed by id and date.
func (a *Archiver) Archive(ctx context.Context, summaryID, content string) error {
	key := fmt.Sprintf("summaries/%s/%s.txt", time.Now().UTC().Format("2006/01/02"), summaryID)
	location, err := a.dest.Upload(ctx, key, []byte(content), "text/plain; charset=utf-8")
	if err != nil {
		return fmt.Errorf("archive summary %s: %w", summaryID, err)
	}
	a.logger.Debugw("summary archived", "summary_id", summaryID, "location", location)
	return nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}
