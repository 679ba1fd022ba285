package sources

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// GetObjectAPI is the slice of the S3 client the source needs.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures an S3Source.
type S3Options struct {
	Bucket          string
	Key             string
	Region          string
	Endpoint        string // optional, for S3-compatible stores; enables path-style addressing
	AccessKeyID     string // optional; the default credential chain is used when empty
	SecretAccessKey string
	MaxBytes        int64
}

// S3Source reads the blocklist from an S3 object. A missing object is an
// empty list rather than an error.
type S3Source struct {
	client   GetObjectAPI
	bucket   string
	key      string
	maxBytes int64
}

// NewS3Source loads AWS configuration and builds a client for opts.
func NewS3Source(ctx context.Context, opts S3Options) (*S3Source, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, errors.New("s3 source requires bucket and key")
	}
	loaders := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SourceWithClient(client, opts.Bucket, opts.Key, opts.MaxBytes), nil
}

// NewS3SourceWithClient wraps an existing client.
func NewS3SourceWithClient(client GetObjectAPI, bucket, key string, maxBytes int64) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key, maxBytes: maxBytes}
}

func (s *S3Source) Name() string { return "s3://" + s.bucket + "/" + s.key }

func (s *S3Source) Fetch(ctx context.Context) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", s.Name(), err)
	}
	defer resp.Body.Close()

	data, err := readAllLimited(resp.Body, s.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Name(), err)
	}
	return data, nil
}
