package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const noMediaGroup = "no_media_group"

// s3API is the minimal S3 interface required by Store.
// *s3.Client from aws-sdk-go-v2 satisfies this interface.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Ref identifies where an attachment blob lives under the bucket. The object
// key groups by owner and burst so one media group's files sit under a common
// prefix: <chat_id>/<media_group_id|no_media_group>/<message_id>/<hash>_<name>.
type Ref struct {
	ChatID       string
	MediaGroupID string
	MessageID    int
	FileName     string
}

// Store persists attachment blobs to an S3 bucket. Object expiry is a bucket
// lifecycle rule, owned by deployment tooling.
type Store struct {
	api    s3API
	bucket string
}

// New creates a Store for the given bucket.
func New(api s3API, bucket string) (*Store, error) {
	if api == nil {
		return nil, errors.New("blobstore: api must not be nil")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("blobstore: bucket must not be empty")
	}
	return &Store{api: api, bucket: bucket}, nil
}

// Key computes the content-addressed object key for data under ref. The short
// sha256 prefix makes re-uploads of identical content idempotent: the same
// bytes land on the same key.
func Key(ref Ref, data []byte) string {
	group := ref.MediaGroupID
	if group == "" {
		group = noMediaGroup
	}
	sum := sha256.Sum256(data)
	name := strings.ReplaceAll(ref.FileName, "/", "_")
	return ref.ChatID + "/" + group + "/" + strconv.Itoa(ref.MessageID) + "/" + hex.EncodeToString(sum[:8]) + "_" + name
}

// Put stores data under its content-addressed key and returns the key.
func (s *Store) Put(ctx context.Context, ref Ref, contentType string, data []byte) (string, error) {
	if ref.ChatID == "" {
		return "", errors.New("blobstore: Put: chat id is required")
	}
	if len(data) == 0 {
		return "", errors.New("blobstore: Put: empty payload")
	}
	key := Key(ref, data)
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("blobstore: put %s: %w", key, err)
	}
	return key, nil
}

// Get reads a blob back by its key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("blobstore: Get: key is required")
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	return data, nil
}
