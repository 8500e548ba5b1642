// Package media stores avatar and cover images in S3 compatible object
// storage and returns the public URL of each stored object.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// MaxImageSize is the largest accepted upload.
const MaxImageSize = 5 << 20

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Config describes the bucket. PublicURL is the prefix used to build object
// URLs; it defaults to "<Endpoint>/<Bucket>".
type Config struct {
	Bucket    string `env:"S3_BUCKET"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"S3_ENDPOINT"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	PublicURL string `env:"S3_PUBLIC_URL"`
}

// LoadConfigFromEnv reads the S3_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse media config")
	}
	return cfg, nil
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool { return c.Bucket != "" }

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Bucket, validation.Required),
		validation.Field(&c.Region, validation.Required),
		validation.Field(&c.Endpoint, is.URL),
		validation.Field(&c.PublicURL, is.URL),
	)
}

// PutObjectAPI is the part of the s3 client the uploader uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes images to a bucket.
type S3Uploader struct {
	client    PutObjectAPI
	bucket    string
	publicURL string
	now       func() time.Time
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// NewS3Uploader builds an S3 client from static credentials. An empty access
// key falls back to the default credential chain.
func NewS3Uploader(ctx context.Context, cfg Config) (*S3Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid media config")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewUploader(client, cfg), nil
}

// NewUploader wraps an existing client.
func NewUploader(client PutObjectAPI, cfg Config) *S3Uploader {
	public := cfg.PublicURL
	if public == "" {
		if cfg.Endpoint != "" {
			public = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		} else {
			public = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	return &S3Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(public, "/"),
		now:       time.Now,
	}
}

// UploadImage stores body under prefix and returns its public URL. Only
// common image types up to MaxImageSize are accepted.
func (u *S3Uploader) UploadImage(ctx context.Context, prefix, contentType string, size int64, body io.Reader) (string, error) {
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return "", goerrors.New("unsupported image type", goerrors.CategoryValidation).
			WithTextCode("INVALID_INPUT").
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"content_type": contentType})
	}
	if size <= 0 || size > MaxImageSize {
		return "", goerrors.New("image size out of range", goerrors.CategoryValidation).
			WithTextCode("INVALID_INPUT").
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"size": size, "max": MaxImageSize})
	}

	key := objectKey(prefix, u.now(), ext)

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryExternal, "failed to upload image").
			WithTextCode("INTERNAL").
			WithCode(goerrors.CodeInternal)
	}

	return u.publicURL + "/" + key, nil
}

func objectKey(prefix string, at time.Time, ext string) string {
	return path.Join(
		strings.Trim(prefix, "/"),
		fmt.Sprintf("%d/%02d", at.Year(), at.Month()),
		uuid.NewString()+ext,
	)
}
