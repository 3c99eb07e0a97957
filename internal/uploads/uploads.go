// Package uploads hands out presigned S3 PUT URLs for post images. The
// browser uploads the file directly and stores the returned public URL as the
// item's imageUrl.
package uploads

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/emaihada/yoonha/internal/apperr"
	appconfig "github.com/emaihada/yoonha/internal/config"
	"github.com/google/uuid"
)

const presignExpires = 15 * time.Minute

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}

	now = time.Now
)

// Upload is a one-shot upload slot.
type Upload struct {
	Key       string    `json:"key"`
	UploadURL string    `json:"uploadUrl"`
	PublicURL string    `json:"publicUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Presigner struct {
	cfg    appconfig.S3Config
	client *s3.PresignClient
}

func New(ctx context.Context, cfg appconfig.S3Config) (*Presigner, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Presigner{cfg: cfg, client: s3.NewPresignClient(client)}, nil
}

// ImageUploadURL presigns a PUT for a new image object of the given type.
func (p *Presigner) ImageUploadURL(ctx context.Context, contentType string) (*Upload, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, apperr.Invalid("content type %q is not an image", contentType)
	}

	key := storageKey(now())
	req, err := presignPutObject(p.client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(presignExpires))
	if err != nil {
		return nil, apperr.Unavailable("presign upload", err)
	}

	return &Upload{
		Key:       key,
		UploadURL: req.URL,
		PublicURL: p.publicURL(key),
		ExpiresAt: now().Add(presignExpires),
	}, nil
}

func (p *Presigner) publicURL(key string) string {
	if p.cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(p.cfg.PublicBaseURL, "/") + "/" + key
	}
	if p.cfg.Endpoint != "" {
		return strings.TrimSuffix(p.cfg.Endpoint, "/") + "/" + p.cfg.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.cfg.Bucket, p.cfg.Region, key)
}

func storageKey(t time.Time) string {
	return fmt.Sprintf("images/%d/%02d/%02d/%v", t.Year(), t.Month(), t.Day(), uuid.New())
}
