package export

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
)

// S3Config selects the S3-compatible endpoint. Credentials come from the
// default AWS chain (AWS_ACCESS_KEY_ID, shared config, instance roles).
type S3Config struct {
	Region    string `envconfig:"REGION" default:"us-east-1"`
	Endpoint  string `envconfig:"ENDPOINT"`
	PathStyle bool   `envconfig:"PATH_STYLE"`
}

// LoadS3Config reads EXAR_S3_REGION, EXAR_S3_ENDPOINT and EXAR_S3_PATH_STYLE.
func LoadS3Config() (S3Config, error) {
	var cfg S3Config
	if err := envconfig.Process("exar_s3", &cfg); err != nil {
		return S3Config{}, fmt.Errorf("read s3 environment: %w", err)
	}
	return cfg, nil
}

// S3Sink uploads to one object.
type S3Sink struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Sink builds a client from cfg and the default credential chain.
func NewS3Sink(ctx context.Context, cfg S3Config, bucket, key string) (*S3Sink, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 sink: bucket and key required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3 sink: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Sink{client: client, bucket: bucket, key: key}, nil
}

func (s *S3Sink) String() string { return "s3://" + s.bucket + "/" + s.key }

// Put uploads r as a CSV object. The body is buffered so the request can
// be signed and retried.
func (s *S3Sink) Put(ctx context.Context, r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("export %s: read: %w", s, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("export %s: %w", s, err)
	}
	return nil
}
