package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MaxBannerFileSize is the maximum banner image size (5MB).
	MaxBannerFileSize = 5 * 1024 * 1024
	// MaxMaterialFileSize is the maximum event material size (25MB).
	MaxMaterialFileSize = 25 * 1024 * 1024
	// FolderBanners is the S3 prefix for banner images.
	FolderBanners = "banners"
	// FolderMaterials is the S3 prefix for event materials.
	FolderMaterials = "materials"
)

// Kind selects the validation rules for an upload.
type Kind int

const (
	KindBanner Kind = iota
	KindMaterial
)

var (
	bannerTypes = map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".webp": "image/webp",
	}
	materialTypes = map[string]string{
		".pdf":  "application/pdf",
		".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
	}
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	MaterialsBucket      string
	BannersBucket        string
	PresignExpireMinutes int
}

// S3 stores banner images and event materials.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using static credentials when configured, else the default chain.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey, secretKey := cfg.AccessKeyID, cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	} else {
		logger.Warn("S3 client using default credential chain")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ContentType validates filename/size for the kind and returns the MIME type to store.
func ContentType(kind Kind, filename string, size int64) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	allowed, limit := bannerTypes, int64(MaxBannerFileSize)
	if kind == KindMaterial {
		allowed, limit = materialTypes, MaxMaterialFileSize
	}
	if size <= 0 {
		return "", fmt.Errorf("empty file")
	}
	if size > limit {
		return "", fmt.Errorf("file size exceeds %dMB limit", limit/(1024*1024))
	}
	ct, ok := allowed[ext]
	if !ok {
		return "", fmt.Errorf("file type %q not allowed", ext)
	}
	return ct, nil
}

// BannerKey returns banners/{uuid}{ext}.
func BannerKey(filename string) string {
	return path.Join(FolderBanners, uuid.NewString()+strings.ToLower(path.Ext(filename)))
}

// MaterialKey returns materials/{event_id}/{filename}.
func MaterialKey(eventID, filename string) string {
	return path.Join(FolderMaterials, eventID, path.Base(filename))
}

// BannersBucket returns the banners bucket name.
func (s *S3) BannersBucket() string { return s.cfg.BannersBucket }

// MaterialsBucket returns the materials bucket name.
func (s *S3) MaterialsBucket() string { return s.cfg.MaterialsBucket }

// PublicObjectURL returns the unsigned URL for an object in a public bucket.
func (s *S3) PublicObjectURL(bucket, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.cfg.Region, key)
}

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// Upload streams body to bucket/key and returns the object's public URL.
func (s *S3) Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64, publicRead bool) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if contentLength > 0 {
		input.ContentLength = aws.Int64(contentLength)
	}
	if publicRead {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	s.logger.Info("object uploaded", zap.String("bucket", bucket), zap.String("key", key))
	return s.PublicObjectURL(bucket, key), nil
}

// PresignedDownloadURL returns a pre-signed GET URL for a private object.
func (s *S3) PresignedDownloadURL(ctx context.Context, bucket, key string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.PresignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// DeleteObject removes an object.
func (s *S3) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
