package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/classedge/sensei/pkg/ports"
)

// s3API is the slice of the S3 client the store uses. Faked in tests.
type s3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store implements ports.BlobStore on an S3 bucket. An optional root
// prefix namespaces all keys inside the bucket.
type S3Store struct {
	client s3API
	bucket string
	root   string
}

var _ ports.BlobStore = (*S3Store)(nil)

// NewS3 loads the shared AWS configuration and wires the bucket client.
func NewS3(ctx context.Context, bucket, region, rootPrefix string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws configuration: %w", err)
	}
	if region != "" {
		cfg.Region = region
	}
	return NewS3FromClient(s3.NewFromConfig(cfg), bucket, rootPrefix), nil
}

// NewS3FromClient wires an existing client (useful for testing).
func NewS3FromClient(client s3API, bucket, rootPrefix string) *S3Store {
	if rootPrefix != "" && !strings.HasSuffix(rootPrefix, "/") {
		rootPrefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, root: rootPrefix}
}

// List returns objects under prefix with the root prefix stripped.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ports.ObjectInfo, error) {
	var out []ports.ObjectInfo
	var token *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.root + prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: listing s3 objects: %v", ports.ErrUnavailable, err)
		}
		for _, obj := range resp.Contents {
			key, ok := strings.CutPrefix(aws.ToString(obj.Key), s.root)
			if !ok {
				continue
			}
			out = append(out, ports.ObjectInfo{
				Key:  key,
				Size: aws.ToInt64(obj.Size),
				ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
			})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}

// Get downloads one object.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.root + key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", fmt.Errorf("%w: blob %s", ports.ErrNotFound, key)
		}
		return nil, "", fmt.Errorf("%w: getting s3 object %s: %v", ports.ErrUnavailable, key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading s3 object %s: %w", key, err)
	}
	return data, strings.Trim(aws.ToString(resp.ETag), `"`), nil
}

// Put uploads one object.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.root + key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: putting s3 object %s: %v", ports.ErrUnavailable, key, err)
	}
	return nil
}

// Delete removes one object.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.root + key),
	})
	if err != nil {
		return fmt.Errorf("%w: deleting s3 object %s: %v", ports.ErrUnavailable, key, err)
	}
	return nil
}
