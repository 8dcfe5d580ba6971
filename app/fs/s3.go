package fs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Config is the configuration for an S3-compatible storage backend.
type S3Config struct {
	EndpointURL string `yaml:"endpoint_url" json:"endpoint_url"`
	Region      string `yaml:"region" json:"region"`
	Bucket      string `yaml:"bucket" json:"bucket"`
	Prefix      string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	AccessKey   string `yaml:"access_key,omitempty" json:"access_key,omitempty"`
	SecretKey   string `yaml:"secret_key,omitempty" json:"secret_key,omitempty"`
}

// S3 streams artifacts to an S3-compatible object store. Serving files is not
// supported; deployments are expected to host the bucket externally.
type S3 struct {
	api      *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

var _ Storage = (*S3)(nil)

func NewS3(config S3Config) (*S3, error) {
	awsConfig := aws.Config{
		Endpoint:         aws.String(config.EndpointURL),
		Region:           aws.String(config.Region),
		S3ForcePathStyle: aws.Bool(true),
	}

	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}

	sess, err := session.NewSession(&awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return &S3{
		api:      s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   config.Bucket,
		prefix:   config.Prefix,
	}, nil
}

func (s *S3) Create(ctx context.Context, name string, reader io.Reader) (int64, error) {
	var (
		key     = s.key(name)
		counter = &countingReader{reader: reader}
	)

	slog.Debug("Uploading object", "bucket", s.bucket, "key", key)

	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   counter,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return counter.read, nil
}

func (s *S3) Delete(ctx context.Context, name string) error {
	_, err := s.api.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}

	return nil
}

func (s *S3) Size(ctx context.Context, name string) (int64, error) {
	resp, err := s.api.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if awsErr, ok := err.(awserr.Error); ok {
			switch awsErr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound":
				return 0, os.ErrNotExist
			}
		}
		return 0, fmt.Errorf("failed to head %s: %w", name, err)
	}

	return aws.Int64Value(resp.ContentLength), nil
}

func (s *S3) key(name string) string {
	return path.Join(s.prefix, name)
}

// countingReader counts the bytes pulled through an upload.
type countingReader struct {
	reader io.Reader
	read   int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read += int64(n)
	return n, err
}
