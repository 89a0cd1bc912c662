package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/freightdesk/internal/config"
)

// ErrBucketRequired is returned when S3 settings omit the bucket.
var ErrBucketRequired = errors.New("s3 bucket is required")

// NewS3Client builds an S3 client from off-site settings. Static credentials
// are used when both keys are set, otherwise the default AWS chain applies.
func NewS3Client(ctx context.Context, settings config.OffsiteSettings) (*s3.Client, error) {
	if settings.Bucket == "" {
		return nil, ErrBucketRequired
	}

	region := settings.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if settings.AccessKeyID != "" && settings.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			settings.AccessKeyID,
			settings.SecretAccessKey,
			"",
		)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if settings.Endpoint != "" {
		endpoint := settings.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(cfg, clientOpts...), nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// S3Meter sums the size of objects under a bucket prefix.
type S3Meter struct {
	client s3.ListObjectsV2APIClient
	bucket string
	prefix string
}

// NewS3Meter creates a meter over bucket/prefix.
func NewS3Meter(client s3.ListObjectsV2APIClient, bucket, prefix string) *S3Meter {
	return &S3Meter{client: client, bucket: bucket, prefix: normalizePrefix(prefix)}
}

// UsedBytes lists every object under the prefix and sums their sizes.
func (m *S3Meter) UsedBytes(ctx context.Context) (int64, error) {
	paginator := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(m.prefix),
	})

	var total int64
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Size != nil {
				total += *obj.Size
			}
		}
	}
	return total, nil
}

// S3Uploader copies artifacts to an S3 bucket.
type S3Uploader struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   zerolog.Logger
}

// NewS3Uploader creates an uploader for bucket/prefix.
func NewS3Uploader(client manager.UploadAPIClient, bucket, prefix string, logger zerolog.Logger) *S3Uploader {
	return &S3Uploader{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   normalizePrefix(prefix),
		logger:   logger.With().Str("component", "offsite_uploader").Logger(),
	}
}

// ObjectKey returns the key for a local artifact: the prefix, the artifact's
// category directory and its file name.
func (u *S3Uploader) ObjectKey(localPath string) string {
	category := filepath.Base(filepath.Dir(localPath))
	return u.prefix + path.Join(category, filepath.Base(localPath))
}

// Upload copies each path and returns the object keys written.
func (u *S3Uploader) Upload(ctx context.Context, paths []string) ([]string, error) {
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		key := u.ObjectKey(p)
		if err := u.uploadFile(ctx, p, key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
		u.logger.Info().Str("path", p).Str("bucket", u.bucket).Str("key", key).Msg("artifact uploaded")
	}
	return keys, nil
}

func (u *S3Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s to s3://%s/%s: %w", localPath, u.bucket, key, err)
	}
	return nil
}
