// Package objectstore is the message-parts object-store gateway (§4.1):
// a pure read, download(key) → bytes, resolving a message's parts_meta
// locator into its hydrated Parts. Any failure degrades the owning
// message to parts=nil rather than failing the flush.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/nextlevelbuilder/taskloom/internal/model"
)

// Config configures an S3-compatible store for message-part blobs.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Store downloads message-part blobs from S3.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an S3-backed object store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Download is the gateway's sole operation: download(key) → bytes.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	objKey := s.objectKey(key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &objKey,
	})
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && strings.EqualFold(apiErr.ErrorCode(), "NotFound") {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body %s: %w", key, err)
	}
	return data, nil
}

// ErrNotFound is returned when the key does not exist in the bucket.
var ErrNotFound = errors.New("objectstore: not found")

// HydrateMessage downloads msg.PartsMeta's blob and unmarshals it into
// msg.Parts. A message with no locator carries no content and is left
// with Parts=nil. Any failure — download or decode — degrades the
// message to Parts=nil (§7 "parts-hydration-miss") rather than failing
// the flush that contains it; the batch still reaches the task agent,
// just without that message's content.
func (s *Store) HydrateMessage(ctx context.Context, msg *model.Message) {
	if msg.PartsMeta.IsZero() {
		return
	}
	blob, err := s.Download(ctx, msg.PartsMeta.AssetKey)
	if err != nil {
		msg.Parts = nil
		return
	}
	var parts []model.Part
	if err := json.Unmarshal(blob, &parts); err != nil {
		msg.Parts = nil
		return
	}
	msg.Parts = parts
}

func (s *Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}
