// Package archive uploads replicated event batches to S3 for cold storage,
// keyed by peer and date. It is entirely optional: construction is skipped
// when no archive bucket is configured.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dooapps/tisane-relay/internal/models"
)

// Archiver persists a replication batch pushed to peerID.
type Archiver interface {
	ArchiveBatch(ctx context.Context, peerID uuid.UUID, events []models.Event) error
}

// S3Archiver writes replicated batches to paths like:
//
//	s3://<bucket>/<prefix>/replication/<peerID>/YYYY/MM/DD/<batch-first-event-id>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver creates an S3Archiver. Region and credentials are resolved
// from the environment the way the AWS SDK always does (AWS_REGION,
// AWS_PROFILE, AWS_ACCESS_KEY_ID/SECRET, instance role, etc).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{bucket: bucket, prefix: prefix, uploader: manager.NewUploader(client)}, nil
}

// ArchiveBatch uploads the batch as a single JSON array object
// (encoding/json, not the crypto package's canonical encoder).
// A nil or zero-length events slice is a no-op.
func (a *S3Archiver) ArchiveBatch(ctx context.Context, peerID uuid.UUID, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	ts := time.Now().UTC()
	year, month, day := ts.Date()
	objectKey := path.Join(a.prefix, "replication", peerID.String(),
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", events[0].EventID),
	)

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(objectKey),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
