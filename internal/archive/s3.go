package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsmiddleware "github.com/aws/smithy-go/middleware"
)

// ObjectPutter is the part of the S3 client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver stores raw provider webhook payloads in an S3-compatible bucket.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	now    func() time.Time
}

// NewS3Client builds a path-style client for the configured archive endpoint.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	s3Config, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.ArchiveS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.ArchiveS3AccessKey, cfg.ArchiveS3SecretKey, "")),
		awsconfig.WithAPIOptions([]func(*awsmiddleware.Stack) error{removeDisableGzip()}),
	)
	if err != nil {
		return nil, fmt.Errorf("load S3 config: %w", err)
	}
	return s3.NewFromConfig(s3Config, func(o *s3.Options) {
		if cfg.ArchiveS3URL != "" {
			o.BaseEndpoint = aws.String(cfg.ArchiveS3URL)
		}
		o.UsePathStyle = true
	}), nil
}

// NewS3Archiver writes into bucket through client.
func NewS3Archiver(client ObjectPutter, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, now: time.Now}
}

func (a *S3Archiver) Archive(ctx context.Context, source model.EventSource, eventID string, payload []byte) error {
	key := ObjectKey(source, eventID, a.now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive %s event %s to s3://%s/%s: %w", source, eventID, a.bucket, key, err)
	}
	return nil
}

// ObjectKey lays events out by source and receive date.
// Redeliveries of one event overwrite the same object.
func ObjectKey(source model.EventSource, eventID string, at time.Time) string {
	return path.Join("webhooks", string(source), at.UTC().Format("2006/01/02"), eventID+".json")
}

// removeDisableGzip is a workaround for S3 signature errors with some S3-compatible services.
// See: https://github.com/supabase/storage/issues/577
func removeDisableGzip() func(*awsmiddleware.Stack) error {
	return func(stack *awsmiddleware.Stack) error {
		if _, ok := stack.Finalize.Get("DisableAcceptEncodingGzip"); ok {
			_, err := stack.Finalize.Remove("DisableAcceptEncodingGzip")
			return err
		}
		return nil
	}
}
