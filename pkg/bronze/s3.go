package bronze

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/ethpandaops/loanpulse/pkg/config"
	"github.com/sirupsen/logrus"
)

// Compile-time interface check.
var _ Sink = (*s3Sink)(nil)

type s3Sink struct {
	log    logrus.FieldLogger
	cfg    *config.S3BronzeConfig
	client *s3.Client
}

// NewS3Sink creates a Sink writing to an S3-compatible bucket.
func NewS3Sink(log logrus.FieldLogger, cfg *config.S3BronzeConfig) Sink {
	return &s3Sink{
		log:    log.WithField("component", "bronze-s3"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}
}

func newS3Client(cfg *config.S3BronzeConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

func (s *s3Sink) Put(ctx context.Context, key string, data []byte) (string, error) {
	objectKey := s.objectKey(key)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/x-ndjson"),
		IfNoneMatch:   aws.String("*"),
	}

	if s.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(s.cfg.StorageClass)
	}

	location := fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, objectKey)

	if _, err := s.client.PutObject(ctx, input); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return "", fmt.Errorf("writing %s: %w", location, ErrExists)
		}

		return "", fmt.Errorf("writing %s: %w", location, err)
	}

	return location, nil
}

// objectKey prepends the configured prefix to key.
func (s *s3Sink) objectKey(key string) string {
	prefix := strings.Trim(s.cfg.Prefix, "/")
	if prefix == "" {
		return key
	}

	return prefix + "/" + key
}
