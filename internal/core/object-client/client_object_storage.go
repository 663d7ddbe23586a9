package objectclient

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	cfg "github.com/markdave123-py/contexta-ingest/internal/config"
	"github.com/markdave123-py/contexta-ingest/internal/core"
)

const (
	requestTimeout = 2 * time.Minute
	uploadPartSize = 8 << 20
)

// S3Client archives original uploads in one bucket. Reads accept any bucket
// named by a stored URL.
type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	region   string
	logger   *zap.Logger
}

func NewS3Client(ctx context.Context, cfg *cfg.Config, logger *zap.Logger) (*S3Client, error) {
	if !cfg.ObjectStorageEnabled() {
		return nil, fmt.Errorf("object storage needs AWS_ACCESS_KEY, AWS_SECRET_KEY and BUCKET_NAME")
	}
	if cfg.AwsRegion == "" {
		return nil, fmt.Errorf("AWS_REGION not set")
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, "")
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.AwsRegion),
		config.WithCredentialsProvider(aws.NewCredentialsCache(creds)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	logger.Info("object storage configured",
		zap.String("bucket", cfg.BucketName),
		zap.String("region", cfg.AwsRegion))

	return &S3Client{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = uploadPartSize
		}),
		bucket: cfg.BucketName,
		region: cfg.AwsRegion,
		logger: logger,
	}, nil
}

// PutObject stores data under key and returns the object's URL.
func (c *S3Client) PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	in := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := c.uploader.Upload(ctx, in); err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", c.bucket, key, err)
	}

	c.logger.Debug("object stored", zap.String("key", key), zap.Int("bytes", len(data)))
	return ObjectURL(c.bucket, c.region, key), nil
}

func (c *S3Client) DeleteObject(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

// FetchObject downloads the object a stored URL points at. A declared or
// actual size past maxBytes fails with core.ErrOversizedInput.
func (c *S3Client) FetchObject(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	bucket, key, err := ParseS3URL(url)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()

	if size := aws.ToInt64(resp.ContentLength); maxBytes > 0 && size > maxBytes {
		return nil, fmt.Errorf("%w: object is %d bytes, limit %d", core.ErrOversizedInput, size, maxBytes)
	}
	return ReadCapped(resp.Body, maxBytes)
}

var _ core.ObjectClient = (*S3Client)(nil)
