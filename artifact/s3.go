package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store implements Store using an S3-compatible backend. Objects are
// stored under {prefix}/artifacts/{key}.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates a new S3Store.
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// objectKey returns the full S3 key for a given artifact key.
func (s *S3Store) objectKey(key string) string {
	return path.Join(s.prefix, "artifacts", key)
}

// Put uploads an object to S3. The reader content is buffered to compute
// the SHA256 checksum before upload, since S3 PutObject requires a seekable
// body or known content length for checksum metadata.
func (s *S3Store) Put(ctx context.Context, key, contentType string, reader io.Reader) (Info, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return Info{}, fmt.Errorf("failed to read artifact data: %w", err)
	}

	hasher := sha256.New()
	hasher.Write(data)
	checksum := hex.EncodeToString(hasher.Sum(nil))

	info := Info{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
		ETag:        checksum,
	}

	objectKey := s.objectKey(key)
	metadata := map[string]string{
		"checksum":   checksum,
		"created-at": info.CreatedAt.Format(time.RFC3339),
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &objectKey,
		Body:        newReadSeekCloser(data),
		ContentType: &contentType,
		Metadata:    metadata,
	})
	if err != nil {
		return Info{}, fmt.Errorf("failed to put artifact to S3: %w", err)
	}

	return info, nil
}

// Get retrieves an object from S3. The checksum metadata written by Put is
// preferred as the ETag; objects uploaded out of band fall back to the
// S3-provided ETag.
func (s *S3Store) Get(ctx context.Context, key string) (*Object, error) {
	objectKey := s.objectKey(key)

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &objectKey,
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get artifact from S3: %w", err)
	}

	info := Info{Key: key}
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.ContentType != nil {
		info.ContentType = *result.ContentType
	}
	if result.LastModified != nil {
		info.CreatedAt = *result.LastModified
	}
	if checksum, ok := result.Metadata["checksum"]; ok {
		info.ETag = checksum
	} else if result.ETag != nil {
		info.ETag = strings.Trim(*result.ETag, `"`)
	}
	if ts, ok := result.Metadata["created-at"]; ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			info.CreatedAt = t
		}
	}

	return &Object{Info: info, Body: result.Body}, nil
}

// Delete removes an object from S3.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	objectKey := s.objectKey(key)

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &objectKey,
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact from S3: %w", err)
	}

	return nil
}

// readSeekCloser wraps a byte slice to satisfy io.ReadSeekCloser.
type readSeekCloser struct {
	data   []byte
	offset int
}

func newReadSeekCloser(data []byte) *readSeekCloser {
	return &readSeekCloser{data: data}
}

func (r *readSeekCloser) Read(p []byte) (int, error) {
	if r.offset >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.offset:])
	r.offset += n
	return n, nil
}

func (r *readSeekCloser) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(r.offset) + offset
	case io.SeekEnd:
		abs = int64(len(r.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative seek position: %d", abs)
	}
	r.offset = int(abs)
	return abs, nil
}

func (r *readSeekCloser) Close() error {
	return nil
}
