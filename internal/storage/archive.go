// Package storage exports terminated-room snapshots to Cloudflare R2 using
// the AWS SDK v2 S3 API.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/openagentlabs/signal-manager/internal/domain"
)

// ArchiveExporter writes terminated-room snapshots as JSON objects.
type ArchiveExporter struct {
	client *s3.Client
	bucket string
}

// NewArchiveExporter creates an exporter against an R2 bucket.
func NewArchiveExporter(accountID, accessKeyID, secretAccessKey, bucket string) (*ArchiveExporter, error) {
	if accountID == "" || accessKeyID == "" || secretAccessKey == "" || bucket == "" {
		return nil, fmt.Errorf("archive configuration incomplete")
	}

	// R2 endpoint format
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)

	creds := credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")

	client := s3.New(s3.Options{
		Region:       "auto",
		Credentials:  creds,
		BaseEndpoint: aws.String(endpoint),
	})

	return &ArchiveExporter{
		client: client,
		bucket: bucket,
	}, nil
}

// ArchiveTerminatedRoom uploads the snapshot under
// terminated-rooms/<room_id>/<unix-nano>.json so repeated terminations of
// re-used room ids never collide.
func (e *ArchiveExporter) ArchiveTerminatedRoom(ctx context.Context, rec *domain.TerminatedRoom) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("terminated-rooms/%s/%d.json", rec.RoomID, rec.TerminatedAt.UnixNano())
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return nil
}
