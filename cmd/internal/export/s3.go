package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Destination receives a finished JSONL payload.
type Destination interface {
	Write(ctx context.Context, data []byte, at time.Time) error
}

// ObjectPutter is the part of the S3 client the destination uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config locates the bucket. A non-empty Endpoint switches to path-style
// addressing for MinIO and similar.
type S3Config struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string
}

// S3Destination writes JSONL data to an S3-compatible bucket.
type S3Destination struct {
	client ObjectPutter
	bucket string
	key    string
}

// NewS3Destination loads the default AWS credential chain and builds a
// destination for cfg.
func NewS3Destination(ctx context.Context, cfg S3Config) (*S3Destination, error) {
	if strings.TrimSpace(cfg.Bucket) == "" || strings.TrimSpace(cfg.Key) == "" {
		return nil, fmt.Errorf("export: bucket and key are required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return NewS3DestinationWithClient(s3.NewFromConfig(awsCfg, s3opts...), cfg.Bucket, cfg.Key), nil
}

func NewS3DestinationWithClient(client ObjectPutter, bucket, key string) *S3Destination {
	return &S3Destination{client: client, bucket: bucket, key: key}
}

// ObjectKey expands "{date}" and "{ts}" in the configured key.
func (d *S3Destination) ObjectKey(at time.Time) string {
	at = at.UTC()
	r := strings.NewReplacer(
		"{date}", at.Format("2006-01-02"),
		"{ts}", at.Format("20060102T150405Z"),
	)
	return r.Replace(d.key)
}

// Write uploads data as one object.
func (d *S3Destination) Write(ctx context.Context, data []byte, at time.Time) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.ObjectKey(at)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}
