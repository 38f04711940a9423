package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// EnsureBucket creates the receipts bucket when it does not exist yet.
func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("receipts bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("ensure receipts bucket: %w", err)
	}
	return nil
}

func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("receipts bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("receipts bucket missing: %s", cfg.Bucket)
	}
	return nil
}

// ObjectPutter is the subset of *minio.Client the archive writes through.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ReceiptArchive stores one JSON document per execution attempt under
// <prefix>/<pipeline>/<attempt>.json.
type ReceiptArchive struct {
	client ObjectPutter
	bucket string
	prefix string
}

func NewReceiptArchive(client ObjectPutter, cfg Config) *ReceiptArchive {
	if client == nil {
		return nil
	}
	return &ReceiptArchive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

func (a *ReceiptArchive) Key(pipelineID, attemptID string) string {
	return path.Join(a.prefix, pipelineID, attemptID+".json")
}

// Put writes receipt and returns its object key.
func (a *ReceiptArchive) Put(ctx context.Context, pipelineID, attemptID string, receipt any) (string, error) {
	if a == nil || a.client == nil {
		return "", errors.New("receipt archive not initialized")
	}
	if pipelineID == "" || attemptID == "" {
		return "", errors.New("pipeline and attempt ids are required")
	}
	body, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}
	key := a.Key(pipelineID, attemptID)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"pipeline-id": pipelineID,
			"attempt-id":  attemptID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put receipt %s: %w", key, err)
	}
	return key, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
