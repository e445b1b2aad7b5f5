package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/awantoch/beemflow/pkg/errors"
)

// S3Store implements Store on AWS S3. Not the default; configure explicitly.
type S3Store struct {
	client *s3.Client
	bucket string
}

func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	if bucket == "" || region == "" {
		return nil, errors.Validation("s3 blob driver requires bucket and region")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// Put uploads the blob and returns an s3:// URL.
func (s *S3Store) Put(ctx context.Context, data []byte, mime, filename string) (string, error) {
	if filename == "" {
		return "", errors.Validation("s3 blob put requires a filename")
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(filename),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mime),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, filename), nil
}

// Get downloads the blob from an s3:// URL in the configured bucket.
func (s *S3Store) Get(ctx context.Context, url string) ([]byte, error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(url, "s3://"), "/")
	if !ok || !strings.HasPrefix(url, "s3://") {
		return nil, errors.Validation("invalid s3 URL: %s", url)
	}
	if bucket != s.bucket {
		return nil, errors.Validation("bucket %s does not match configured bucket %s", bucket, s.bucket)
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
