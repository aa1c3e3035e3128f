package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config locates the bucket backups are uploaded to. Empty credentials
// fall back to the default AWS credential chain.
type S3Config struct {
	Bucket    string `mapstructure:"s3_bucket"`
	Prefix    string `mapstructure:"s3_prefix"`
	Region    string `mapstructure:"s3_region"`
	Endpoint  string `mapstructure:"s3_endpoint"`
	AccessKey string `mapstructure:"s3_access_key"`
	SecretKey string `mapstructure:"s3_secret_key"`
}

// PutObjectAPI is the subset of *s3.Client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// NewS3Client builds a client for cfg. A custom endpoint switches to
// path-style addressing for MinIO and similar servers.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// ObjectKey returns a unique key for an archive uploaded at t, for example
// "backups/2026/10/16/<uuid>-entitykit-backup.tar.gz".
func ObjectKey(prefix, archive string, t time.Time) string {
	return path.Join(prefix, t.Format("2006/01/02"), uuid.NewString()+"-"+filepath.Base(archive))
}

// Upload sends the archive at archivePath to cfg.Bucket and returns the
// object key.
func Upload(ctx context.Context, api PutObjectAPI, cfg S3Config, archivePath string) (string, error) {
	if cfg.Bucket == "" {
		return "", fmt.Errorf("upload: no bucket configured")
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	key := ObjectKey(cfg.Prefix, archivePath, time.Now().UTC())
	_, err = api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/gzip"),
	})
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", cfg.Bucket, key, err)
	}
	return key, nil
}
