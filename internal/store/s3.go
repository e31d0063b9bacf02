package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"relsync/internal/config"
	"relsync/internal/release"
)

// hashMetadataKey holds the sha256 of a blob in its object metadata so
// StatBlob does not have to download it.
const hashMetadataKey = "sha256"

type s3Client interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type s3Uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type s3Downloader interface {
	Download(ctx context.Context, w io.WriterAt, in *s3.GetObjectInput, opts ...func(*manager.Downloader)) (int64, error)
}

// S3Store publishes blobs and manifests to an S3 bucket (or any S3
// compatible service) using the same file/ and manifest/ layout as
// FileSystemStore, below an optional key prefix.
type S3Store struct {
	client     s3Client
	uploader   s3Uploader
	downloader s3Downloader
	bucket     string
	prefix     string
}

var _ release.Store = (*S3Store)(nil)

// NewS3Store creates an S3 store from configuration. Credentials come from
// the config when an access key is set, otherwise from the default chain.
func NewS3Store(ctx context.Context, cfg config.StoreConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 store requires s3_bucket to be set")
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
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, manager.NewUploader(client), manager.NewDownloader(client), cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3Store(client s3Client, up s3Uploader, down s3Downloader, bucket, prefix string) *S3Store {
	return &S3Store{
		client:     client,
		uploader:   up,
		downloader: down,
		bucket:     bucket,
		prefix:     prefix,
	}
}

func (s *S3Store) blobKey(id release.ContentID) string {
	return path.Join(s.prefix, "file", string(id))
}

func (s *S3Store) manifestKey(name string) string {
	return path.Join(s.prefix, "manifest", name)
}

// PutBlob uploads data under id unless an object already exists there.
func (s *S3Store) PutBlob(ctx context.Context, id release.ContentID, data []byte) (bool, error) {
	if _, err := release.ParseID(string(id)); err != nil {
		return false, err
	}
	key := s.blobKey(id)

	head, err := s.head(ctx, key)
	if err != nil {
		return false, err
	}
	if head != nil {
		return false, nil
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{hashMetadataKey: release.HashBytes(data)},
	})
	if err != nil {
		return false, fmt.Errorf("failed to upload blob %s: %w", id, err)
	}
	return true, nil
}

// GetBlob downloads the blob stored under id.
func (s *S3Store) GetBlob(ctx context.Context, id release.ContentID) ([]byte, error) {
	return s.download(ctx, s.blobKey(id), string(id))
}

// StatBlob reads the blob size and hash from object metadata, falling back
// to downloading the blob when the hash was not recorded.
func (s *S3Store) StatBlob(ctx context.Context, id release.ContentID) (*release.BlobInfo, error) {
	head, err := s.head(ctx, s.blobKey(id))
	if err != nil || head == nil {
		return nil, err
	}

	if hash := head.Metadata[hashMetadataKey]; release.ValidHash(hash) {
		return &release.BlobInfo{Size: aws.ToInt64(head.ContentLength), Hash: hash}, nil
	}

	data, err := s.GetBlob(ctx, id)
	if err != nil {
		return nil, err
	}
	return &release.BlobInfo{Size: int64(len(data)), Hash: release.HashBytes(data)}, nil
}

// PutManifest uploads or replaces a manifest.
func (s *S3Store) PutManifest(ctx context.Context, name string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.manifestKey(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload manifest %s: %w", name, err)
	}
	return nil
}

// GetManifest downloads the manifest stored under name.
func (s *S3Store) GetManifest(ctx context.Context, name string) ([]byte, error) {
	return s.download(ctx, s.manifestKey(name), "manifest "+name)
}

// ValidateSetup checks that the bucket exists and is reachable.
func (s *S3Store) ValidateSetup(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Store) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return out, nil
}

func (s *S3Store) download(ctx context.Context, key, what string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", release.ErrBlobNotFound, what)
		}
		return nil, fmt.Errorf("failed to download %s: %w", what, err)
	}
	return buf.Bytes(), nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}
