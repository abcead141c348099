package ffbuild

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const mirrorKeyPrefix = "sources/"

// sourceMirror is a secondary origin for cache entries.
type sourceMirror interface {
	Fetch(ctx context.Context, filename string, w io.Writer) error
	Upload(ctx context.Context, filename, path string) error
	PushEnabled() bool
}

// S3Mirror keeps source archives in an S3-compatible bucket (R2, MinIO,
// AWS) under sources/<filename>.
type S3Mirror struct {
	Client     *s3.Client
	BucketName string
	Push       bool
}

// NewS3Mirror builds a client from static credentials. An empty endpoint
// means AWS itself.
func NewS3Mirror(ctx context.Context, mc MirrorConfig) (*S3Mirror, error) {
	if !mc.Enabled() {
		return nil, fmt.Errorf("mirror credentials missing (FFBUILD_MIRROR_BUCKET, FFBUILD_MIRROR_ACCESS_KEY_ID, FFBUILD_MIRROR_SECRET_ACCESS_KEY)")
	}

	options := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(mc.AccessKeyID, mc.SecretAccessKey, "")),
		config.WithRegion(mc.Region),
	}
	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if mc.Endpoint != "" {
			o.BaseEndpoint = aws.String(mc.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Mirror{Client: client, BucketName: mc.Bucket, Push: mc.Push}, nil
}

// Fetch streams sources/<filename> into w.
func (m *S3Mirror) Fetch(ctx context.Context, filename string, w io.Writer) error {
	out, err := m.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.BucketName),
		Key:    aws.String(mirrorKeyPrefix + filename),
	})
	if err != nil {
		return err
	}
	defer out.Body.Close()

	_, err = io.Copy(w, out.Body)
	return err
}

// Upload stores a cache entry under sources/<filename>.
func (m *S3Mirror) Upload(ctx context.Context, filename, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.BucketName),
		Key:           aws.String(mirrorKeyPrefix + filename),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	return err
}

func (m *S3Mirror) PushEnabled() bool { return m.Push }
