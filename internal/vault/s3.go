package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const s3OpTimeout = 2 * time.Minute

// s3API is the subset of *s3.Client the vault reads with.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// uploader is the subset of *manager.Uploader the vault writes with.
type uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Vault stores manifests as objects named <prefix>/manifests/<sessionID>.manifest.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   s3API
	uploader uploader
}

// NewS3Vault builds an S3 client from cfg. Region and credentials fall back to
// the default AWS chain; a custom endpoint switches to path-style addressing
// for S3-compatible stores.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client, manager.NewUploader(client)), nil
}

func newS3Vault(name, bucket, prefix string, client s3API, up uploader) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		client:   client,
		uploader: up,
	}
}

func (v *S3Vault) key(sessionID string) string {
	return path.Join(v.prefix, "manifests", sessionID+manifestExt)
}

// PutManifest uploads the manifest for a session, replacing any previous copy.
func (v *S3Vault) PutManifest(sessionID string, r io.Reader, size int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	cr := &countingReader{r: r}
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(v.bucket),
		Key:           aws.String(v.key(sessionID)),
		Body:          cr,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("uploading manifest %s: %w", sessionID, err)
	}
	if cr.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, cr.n)
	}
	return nil
}

// GetManifest downloads the manifest for a session and writes it to w.
func (v *S3Vault) GetManifest(sessionID string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(sessionID)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("%w: %s", ErrManifestNotFound, sessionID)
		}
		return fmt.Errorf("downloading manifest %s: %w", sessionID, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading manifest %s: %w", sessionID, err)
	}
	return nil
}

func (v *S3Vault) HasManifest(sessionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(sessionID)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("checking manifest %s: %w", sessionID, err)
	}
	return true, nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup() error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	if _, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ agent.Vault = (*S3Vault)(nil)
