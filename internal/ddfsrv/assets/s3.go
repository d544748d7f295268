package assets

import (
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3Store uploads assets to an S3 bucket and redirects clients to the
// bucket's virtual-hosted URLs. The bucket is expected to allow public
// reads; protected datasets rely on the query endpoint, not asset secrecy.
type S3Store struct {
	client *s3.Client
	bucket string
	region string
}

// NewS3Store builds a store from the ambient AWS configuration (environment,
// shared credentials, or instance role).
func NewS3Store(ctx context.Context, bucket string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("s3 asset store needs a bucket")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading aws configuration")
	}
	return &S3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		region: awsCfg.Region,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          body,
		ContentLength: &size,
	})
	return errors.Wrapf(err, "uploading asset %s", key)
}

func (s *S3Store) URL(key string) string {
	if s.region == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
