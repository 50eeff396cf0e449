package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/lychee-technology/resource"
	"go.uber.org/zap"
)

// ObjectUploader is the subset of the S3 upload manager used for snapshots.
type ObjectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// BucketAPI is the subset of the S3 client used to prepare a bucket.
type BucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// SnapshotLine is one JSON line of a list snapshot.
type SnapshotLine struct {
	Key        uuid.UUID                    `json:"key"`
	Properties map[resource.AttributeID]any `json:"properties"`
	Attributes map[resource.AttributeID]any `json:"attributes"`
}

// SnapshotExporter writes the loaded contents of a list to S3 as JSON lines,
// one object per export.
type SnapshotExporter struct {
	uploader ObjectUploader
	bucket   string
	prefix   string
	now      func() time.Time
}

func NewSnapshotExporter(uploader ObjectUploader, bucket, prefix string) *SnapshotExporter {
	return &SnapshotExporter{uploader: uploader, bucket: bucket, prefix: prefix, now: time.Now}
}

func (e *SnapshotExporter) objectKey(kind string) string {
	return fmt.Sprintf("%s%s/%s-%s.jsonl", e.prefix, kind, e.now().UTC().Format("20060102T150405Z"), uuid.Must(uuid.NewV7()))
}

// Export uploads the given resources and returns the object key.
func (e *SnapshotExporter) Export(ctx context.Context, kind string, resources []resource.Resource) (string, error) {
	body, err := snapshotBody(resources)
	if err != nil {
		return "", resource.NewRemoteCallError(resource.ErrCodeSnapshotFailed, "", err).WithKind(kind)
	}
	key := e.objectKey(kind)
	start := time.Now()
	_, err = e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	EmitLatency(ctx, "snapshot", kind, time.Since(start))
	if err != nil {
		EmitRemoteError(ctx, "snapshot", kind)
		return "", snapshotError(kind, key, err)
	}
	zap.S().Infow("list snapshot exported", "kind", kind, "bucket", e.bucket, "key", key, "count", len(resources))
	return key, nil
}

func snapshotBody(resources []resource.Resource) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range resources {
		key, err := r.Key()
		if err != nil {
			return nil, err
		}
		id, err := r.Identity()
		if err != nil {
			return nil, err
		}
		if err := enc.Encode(SnapshotLine{Key: key, Properties: id.Properties, Attributes: r.Snapshot()}); err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
	}
	return buf.Bytes(), nil
}

func snapshotError(kind, key string, err error) *resource.Error {
	re := resource.NewRemoteCallError(resource.ErrCodeSnapshotFailed, "", err).
		WithKind(kind).
		WithDetail("key", key)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		re.WithDetail("api_error_code", apiErr.ErrorCode())
	}
	return re
}

// ExportOnComplete exports the list every time it completes loading. The
// contents are captured when ListCompleted is delivered and uploaded on a
// separate goroutine; done, when set, receives each outcome. The returned
// function detaches the exporter.
func (e *SnapshotExporter) ExportOnComplete(list resource.ResourceList, done func(key string, err error)) func() {
	return list.AddListener(func(ev resource.ListEvent) {
		if ev.Type != resource.EventListCompleted {
			return
		}
		resources := list.Resources()
		go func() {
			key, err := e.Export(context.Background(), list.Kind(), resources)
			if err != nil {
				zap.S().Warnw("list snapshot failed", "kind", list.Kind(), "error", err)
			}
			if done != nil {
				done(key, err)
			}
		}()
	})
}

// EnsureBucket creates bucket unless it exists or is already owned.
func EnsureBucket(ctx context.Context, client BucketAPI, bucket string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}
	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
	}
	return fmt.Errorf("create bucket %s: %w", bucket, err)
}
