package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
)

type fakePutter struct {
	bucket, key string
	body        []byte
	opts        minio.PutObjectOptions
	err         error
}

func (f *fakePutter) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(body)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	f.bucket, f.key, f.body, f.opts = bucket, object, body, opts
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestReceiptArchive_Put(t *testing.T) {
	fake := &fakePutter{}
	archive := NewReceiptArchive(fake, Config{Bucket: "receipts-bucket", Prefix: "receipts"})

	key, err := archive.Put(context.Background(), "p-1", "a-1", map[string]any{"status": "succeeded"})
	if err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if key != "receipts/p-1/a-1.json" || fake.key != key || fake.bucket != "receipts-bucket" {
		t.Fatalf("key=%q stored=%s/%s", key, fake.bucket, fake.key)
	}
	if fake.opts.ContentType != "application/json" || fake.opts.UserMetadata["attempt-id"] != "a-1" {
		t.Fatalf("unexpected options %+v", fake.opts)
	}
	var body map[string]string
	if err := json.Unmarshal(fake.body, &body); err != nil || body["status"] != "succeeded" {
		t.Fatalf("body=%s err=%v", fake.body, err)
	}
}

func TestReceiptArchive_Errors(t *testing.T) {
	if NewReceiptArchive(nil, Config{}) != nil {
		t.Fatalf("expected nil archive for nil client")
	}
	var nilArchive *ReceiptArchive
	if _, err := nilArchive.Put(context.Background(), "p", "a", nil); err == nil {
		t.Fatalf("expected not initialized error")
	}
	failing := NewReceiptArchive(&fakePutter{err: errors.New("boom")}, Config{Bucket: "b"})
	if _, err := failing.Put(context.Background(), "p", "a", struct{}{}); err == nil {
		t.Fatalf("expected put error")
	}
	if _, err := failing.Put(context.Background(), "", "a", struct{}{}); err == nil {
		t.Fatalf("expected id validation error")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PIPELINK_RECEIPTS_ENDPOINT", "")
	cfg, err := ConfigFromEnv()
	if err != nil || cfg.Enabled() {
		t.Fatalf("expected disabled archive, cfg=%+v err=%v", cfg, err)
	}

	t.Setenv("PIPELINK_RECEIPTS_ENDPOINT", "http://minio:9000")
	t.Setenv("PIPELINK_RECEIPTS_ACCESS_KEY", "k")
	t.Setenv("PIPELINK_RECEIPTS_SECRET_KEY", "s")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected scheme rejection")
	}

	t.Setenv("PIPELINK_RECEIPTS_ENDPOINT", "minio:9000")
	t.Setenv("PIPELINK_RECEIPTS_PREFIX", "/archive/")
	cfg, err = ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if !cfg.Enabled() || cfg.Prefix != "archive" || cfg.Bucket != "pipelink-receipts" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
