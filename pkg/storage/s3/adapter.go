package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"hopper/pkg/core"
	"hopper/pkg/storage"
	"hopper/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// metaType is the object metadata key holding the git object kind.
const metaType = "hopper-type"

// Adapter implements storage.Store on an S3 bucket. It is the backup target
// of a tracker: objects are keyed "objects/aa/bbcc..." and refs "refs/...".
type Adapter struct {
	client *s3.Client
	bucket string
}

// Config initializes an Adapter.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewAdapter builds the S3 client (SDK v2 style, BaseEndpoint per client).
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	// 1. Region and static credentials only
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 2. S3-specific options
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO requires path-style addressing: http://host:9000/bucket/key
		o.UsePathStyle = true
	})

	// 3. Ensure the bucket exists
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &cfg.Bucket}); err != nil {
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &cfg.Bucket}); err != nil {
			slog.Warn("failed to ensure bucket exists", slog.String("bucket", cfg.Bucket), slog.String("err", err.Error()))
		}
	}

	return &Adapter{client: client, bucket: cfg.Bucket}, nil
}

// transformKey maps "aabbcc..." to "objects/aa/bbcc...".
func (s *Adapter) transformKey(hash types.Hash) string {
	h := string(hash)
	if len(h) < 2 {
		return "objects/" + h
	}
	return "objects/" + h[:2] + "/" + h[2:]
}

func (s *Adapter) Put(ctx context.Context, obj core.Object) error {
	// 1. HEAD is cheaper than PUT for objects the bucket already has
	exists, err := s.Has(ctx, obj.ID())
	if err != nil {
		return fmt.Errorf("s3 put existence check failed: %w", err)
	}
	if exists {
		return nil
	}

	// 2. Upload
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.transformKey(obj.ID())),
		Body:        bytes.NewReader(obj.Bytes()),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{metaType: obj.Type().String()},
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}

func (s *Adapter) Get(ctx context.Context, hash types.Hash) (core.Object, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transformKey(hash)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read failed: %w", err)
	}

	t := core.ObjectType(resp.Metadata[metaType])
	if !t.Plumbing().Valid() {
		return nil, fmt.Errorf("s3 object %s has unknown type %q", hash, t)
	}
	raw := core.NewRaw(t, data)
	if raw.ID() != hash {
		return nil, fmt.Errorf("s3 object %s is corrupted (content hashes to %s)", hash, raw.ID())
	}
	return raw, nil
}

func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transformKey(hash)),
	})
	if err == nil {
		return true, nil
	}

	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return false, nil
	}
	// Some S3 implementations only return a generic 404
	if strings.Contains(err.Error(), "404") {
		return false, nil
	}
	return false, err
}

// ExpandHash lists with the sharded prefix. MaxKeys=2 is enough to tell
// none, unique and ambiguous apart.
func (s *Adapter) ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.Hash, error) {
	p, err := storage.CheckPrefix(prefix)
	if err != nil {
		return "", err
	}
	resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(objectPrefix(p)),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return "", fmt.Errorf("s3 list failed: %w", err)
	}
	return storage.PickUnique(p, keysToHashes(resp.Contents))
}

// MatchPrefix pages through every key under the sharded prefix.
func (s *Adapter) MatchPrefix(ctx context.Context, prefix types.HashPrefix) ([]types.Hash, error) {
	p, err := storage.CheckPrefix(prefix)
	if err != nil {
		return nil, err
	}
	var matches []types.Hash
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(objectPrefix(p)),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed: %w", err)
		}
		matches = append(matches, keysToHashes(page.Contents)...)
	}
	return matches, nil
}

func objectPrefix(p types.HashPrefix) string {
	str := string(p)
	return "objects/" + str[:2] + "/" + str[2:]
}

func keysToHashes(objs []s3types.Object) []types.Hash {
	out := make([]types.Hash, 0, len(objs))
	for _, obj := range objs {
		key := strings.TrimPrefix(aws.ToString(obj.Key), "objects/")
		out = append(out, types.Hash(strings.Replace(key, "/", "", 1)))
	}
	return out
}

// PutRef records a ref manifest entry (e.g. "refs/heads/master" -> commit id).
func (s *Adapter) PutRef(ctx context.Context, name string, hash types.Hash) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        strings.NewReader(hash.String() + "\n"),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("s3 put ref %s failed: %w", name, err)
	}
	return nil
}

// GetRef reads a ref manifest entry written by PutRef.
func (s *Adapter) GetRef(ctx context.Context, name string) (types.Hash, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("s3 get ref %s failed: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return types.Hash(strings.TrimSpace(string(data))), nil
}
