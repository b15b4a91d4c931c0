package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"tennismatch/logger"
)

// PhotoResolver turns a stored photo key into a URL a client can load
type PhotoResolver interface {
	PhotoURL(ctx context.Context, key string) string
}

// PhotoUploader hands out upload URLs for profile photos
type PhotoUploader interface {
	UploadURL(ctx context.Context, userID int64, fileName, contentType string) (url, key string, err error)
}

// StaticPhotoResolver serves keys below a fixed base URL
type StaticPhotoResolver struct {
	BaseURL     string
	Placeholder string
}

func (r StaticPhotoResolver) PhotoURL(_ context.Context, key string) string {
	if key == "" || r.BaseURL == "" {
		return r.Placeholder
	}
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key
	}
	return strings.TrimSuffix(r.BaseURL, "/") + "/" + strings.TrimPrefix(key, "/")
}

// S3PhotoResolver presigns photo reads and uploads against one bucket
type S3PhotoResolver struct {
	bucket      string
	ttl         time.Duration
	placeholder string
	presigner   *s3.PresignClient
	log         *zap.Logger
}

// NewS3PhotoResolver loads the default AWS configuration for region
func NewS3PhotoResolver(ctx context.Context, region, bucket string, ttl time.Duration, placeholder string, log *zap.Logger) (*S3PhotoResolver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &S3PhotoResolver{
		bucket:      bucket,
		ttl:         ttl,
		placeholder: placeholder,
		presigner:   s3.NewPresignClient(s3.NewFromConfig(cfg)),
		log:         logger.OrNop(log).Named("photos"),
	}, nil
}

// PhotoURL presigns a read of key. Failures fall back to the placeholder.
func (r *S3PhotoResolver) PhotoURL(ctx context.Context, key string) string {
	if key == "" {
		return r.placeholder
	}
	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		r.log.Warn("presign read failed", zap.String("key", key), zap.Error(err))
		return r.placeholder
	}
	return req.URL
}

// UploadURL presigns an upload of a new profile photo for userID
func (r *S3PhotoResolver) UploadURL(ctx context.Context, userID int64, fileName, contentType string) (string, string, error) {
	key := fmt.Sprintf("profile-pics/%d/%s-%s", userID, time.Now().UTC().Format("20060102150405"), fileName)
	req, err := r.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		return "", "", fmt.Errorf("failed to presign upload: %w", err)
	}
	return req.URL, key, nil
}
