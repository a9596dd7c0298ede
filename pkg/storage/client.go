// Package storage loads candidate images from S3.
package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/scalpcheck/scalp-analyzer/pkg/capture"
	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
)

// sniffRange covers the bytes net/http's content sniffer inspects.
const sniffRange = "bytes=0-511"

// API is the subset of the S3 client used here.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Client provides S3 storage operations
type Client struct {
	s3Client API
	bucket   string
}

// NewClient creates a new S3 client. Anonymous access is used when
// anonymous is set, the default credential chain otherwise.
func NewClient(ctx context.Context, bucket, region string, anonymous bool) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region, "anonymous", anonymous)

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if anonymous {
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	slog.Info("s3_client_created", "bucket", bucket)
	return NewClientWithAPI(s3.NewFromConfig(cfg), bucket), nil
}

// NewClientWithAPI wraps an existing S3 API implementation.
func NewClientWithAPI(api API, bucket string) *Client {
	return &Client{s3Client: api, bucket: bucket}
}

// Fetch loads an object as a candidate image. Objects larger than limit are
// not downloaded: only the leading bytes are read for type sniffing and the
// returned image carries the real size with no payload.
func (c *Client) Fetch(ctx context.Context, key string, limit int64) (*capture.Image, error) {
	slog.Info("s3_fetch_start", "bucket", c.bucket, "s3_key", key)

	head, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_head_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to stat object")
	}
	size := aws.ToInt64(head.ContentLength)
	name := path.Base(key)

	if limit > 0 && size > limit {
		data, err := c.read(ctx, key, sniffRange, sniffLimit)
		if err != nil {
			return nil, err
		}
		slog.Info("s3_object_over_limit_not_loaded", "s3_key", key, "size", size, "limit", limit)
		mediaType := capture.DetectMediaType(name, data)
		if contentType := aws.ToString(head.ContentType); mediaType == "application/octet-stream" && contentType != "" {
			mediaType = capture.NormalizeMediaType(contentType)
		}
		return &capture.Image{Name: name, MediaType: mediaType, Size: size}, nil
	}

	readLimit := size
	if limit > 0 {
		readLimit = limit
	}
	data, err := c.read(ctx, key, "", readLimit)
	if err != nil {
		return nil, err
	}

	mediaType := ""
	if contentType := aws.ToString(head.ContentType); contentType != "" && strings.HasPrefix(contentType, "image/") {
		mediaType = contentType
	}
	img := capture.New(name, data, mediaType)

	slog.Info("s3_fetch_complete", "s3_key", key, "size", img.Size, "media_type", img.MediaType)
	return img, nil
}

const sniffLimit = 512

func (c *Client) read(ctx context.Context, key, byteRange string, limit int64) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if byteRange != "" {
		input.Range = aws.String(byteRange)
	}

	result, err := c.s3Client.GetObject(ctx, input)
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, limit+1))
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to download object")
	}
	if int64(len(data)) > limit {
		if byteRange != "" {
			return data[:limit], nil
		}
		// The object grew between HEAD and GET.
		return nil, fmt.Errorf("object %s exceeds %d bytes", key, limit)
	}
	return data, nil
}

// ListObjects lists all objects in the bucket with a given prefix
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	slog.Info("s3_list_start", "bucket", c.bucket, "prefix", prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key != nil && !strings.HasSuffix(*obj.Key, "/") {
				keys = append(keys, *obj.Key)
			}
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(keys))

	return keys, nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		var notFound *types.NotFound
		if stderrors.As(err, &notFound) {
			slog.Info("s3_object_not_found", "s3_key", key)
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}

	slog.Info("s3_object_exists", "s3_key", key)
	return true, nil
}

// ParseURI splits s3://bucket/key. ok is false for anything else.
func ParseURI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" {
		return "", "", false
	}
	return bucket, key, true
}
