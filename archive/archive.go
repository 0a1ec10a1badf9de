// Package archive keeps copies of webhook payloads that could not be
// processed so they can be inspected and replayed by hand.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type Archiver interface {
	// Archive stores body and returns the object key.
	Archive(ctx context.Context, provider, reason string, body []byte) (string, error)
}

type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client putter
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3 uses static credentials when accessKey is set and the default AWS
// chain otherwise.
func NewS3(ctx context.Context, accessKey, secretKey, region, bucket, prefix string) (*S3Archiver, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return &S3Archiver{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, provider, reason string, body []byte) (string, error) {
	now := a.now().UTC()
	key := path.Join(a.prefix, provider, now.Format("2006/01/02"), fmt.Sprintf("%s-%s", reason, uuid.NewString()))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive payload: %w", err)
	}

	return key, nil
}

type noop struct{}

func NewNoop() Archiver { return noop{} }

func (noop) Archive(context.Context, string, string, []byte) (string, error) { return "", nil }
