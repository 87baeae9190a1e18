package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"sg-go/internal/config"
	"sg-go/internal/sg"
)

const versionMetaKey = "sg-version"

// S3API is the subset of the S3 client the vault uses.
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Vault stores content and metadata as objects in one bucket:
//
//	<prefix>content/<checksum>
//	<prefix>metadata/<owner>/<name>   (version in object metadata)
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   S3API
	uploader *manager.Uploader
}

// NewS3Vault wraps an existing client.
func NewS3Vault(name, bucket, prefix string, client S3API) *S3Vault {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

// NewS3VaultFromConfig builds a client from the vault config. Static
// credentials are used when given, the default AWS chain otherwise.
func NewS3VaultFromConfig(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
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
	return NewS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

func (v *S3Vault) contentKey(checksum string) string { return v.prefix + "content/" + checksum }

func (v *S3Vault) metadataKey(owner, name string) string {
	return v.prefix + "metadata/" + owner + "/" + name
}

// PutContent uploads content unless an object for checksum already exists.
func (v *S3Vault) PutContent(checksum string, r io.Reader, size int64) error {
	ctx := context.Background()
	key := v.contentKey(checksum)

	exists, _, err := v.head(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}
	return v.upload(ctx, key, r, size, nil)
}

// GetContent downloads content by checksum.
func (v *S3Vault) GetContent(checksum string, w io.Writer) error {
	return v.download(context.Background(), v.contentKey(checksum), w, "content "+checksum)
}

// PutMetadata uploads a named item for owner with its version stored as
// object metadata.
func (v *S3Vault) PutMetadata(owner string, name string, r io.Reader, size int64, version int64) error {
	meta := map[string]string{versionMetaKey: strconv.FormatInt(version, 10)}
	return v.upload(context.Background(), v.metadataKey(owner, name), r, size, meta)
}

// GetMetadata downloads a named item for owner.
func (v *S3Vault) GetMetadata(owner string, name string, w io.Writer) error {
	return v.download(context.Background(), v.metadataKey(owner, name), w, fmt.Sprintf("metadata %q for %s", name, owner))
}

// GetMetadataVersion returns 0 when the item does not exist.
func (v *S3Vault) GetMetadataVersion(owner string, name string) (int64, error) {
	exists, out, err := v.head(context.Background(), v.metadataKey(owner, name))
	if err != nil || !exists {
		return 0, err
	}
	raw, ok := out.Metadata[versionMetaKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ListMetadata returns the sorted names stored for owner that start with prefix.
func (v *S3Vault) ListMetadata(owner string, prefix string) ([]string, error) {
	ctx := context.Background()
	base := v.metadataKey(owner, "")
	p := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(base + prefix),
	})

	var names []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", base, err)
		}
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), base))
		}
	}
	sort.Strings(names)
	return names, nil
}

// ValidateSetup checks that the bucket is reachable.
func (v *S3Vault) ValidateSetup() error {
	if _, err := v.client.HeadBucket(context.Background(), &s3.HeadBucketInput{Bucket: aws.String(v.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func (v *S3Vault) head(ctx context.Context, key string) (bool, *s3.HeadObjectOutput, error) {
	out, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(v.bucket), Key: aws.String(key)})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("checking %s: %w", key, err)
	}
	return true, out, nil
}

func (v *S3Vault) upload(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) error {
	cr := &countingReader{r: r}
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(v.bucket),
		Key:      aws.String(key),
		Body:     cr,
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	if n := cr.n.Load(); n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, n)
	}
	return nil
}

func (v *S3Vault) download(ctx context.Context, key string, w io.Writer, what string) error {
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(v.bucket), Key: aws.String(key)})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("%w: %s", sg.ErrNotFound, what)
		}
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return nil
}

// countingReader counts the bytes the uploader consumed.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

var _ sg.Vault = (*S3Vault)(nil)
