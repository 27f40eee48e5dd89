package columnar

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Opener implements ObjectOpener against an S3-compatible endpoint
// (AWS S3, MinIO, LocalStack), mirroring the credential surface the
// Columnar Reader Adapter requires before any I/O (§4.3).
type S3Opener struct {
	client *s3.Client
}

// NewS3Opener builds an S3Opener from a RemoteConfig already validated
// by RemoteConfig.Validate.
func NewS3Opener(ctx context.Context, cfg RemoteConfig) (*S3Opener, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("columnar: load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Opener{client: client}, nil
}

// Open reads an s3://bucket/key URI.
func (o *S3Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("columnar: get s3 object %s: %w", uri, err)
	}
	return out.Body, nil
}

func parseS3URI(uri string) (bucket, key string, err error) {
	const prefix = "s3://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", fmt.Errorf("columnar: not an s3 URI: %s", uri)
	}
	rest := strings.TrimPrefix(uri, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("columnar: malformed s3 URI: %s", uri)
	}
	return parts[0], parts[1], nil
}
