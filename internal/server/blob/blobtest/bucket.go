// Package blobtest provides an in-memory bucket implementing blob.ObjectAPI
// for tests.
package blobtest

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Bucket is a goroutine-safe in-memory S3 bucket. Error fields, when set,
// are returned by the corresponding call instead of touching the data.
type Bucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string

	// PageSize limits ListObjectsV2 pages (default 1000).
	PageSize int

	GetErr  error
	PutErr  error
	ListErr error
	// GetErrFor fails GetObject for specific keys only.
	GetErrFor map[string]error

	Puts int
}

func NewBucket() *Bucket {
	return &Bucket{objects: map[string][]byte{}, types: map[string]string{}}
}

// Set stores an object directly, bypassing counters.
func (b *Bucket) Set(key string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), body...)
}

// Object returns a stored object and whether it exists.
func (b *Bucket) Object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.objects[key]
	return body, ok
}

// ContentType returns the content type recorded for key.
func (b *Bucket) ContentType(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.types[key]
}

// Keys returns every key with the given prefix, sorted.
func (b *Bucket) Keys(prefix string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keys(prefix)
}

func (b *Bucket) keys(prefix string) []string {
	var out []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (b *Bucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := aws.ToString(in.Key)
	if err := b.GetErrFor[key]; err != nil {
		return nil, err
	}
	if b.GetErr != nil {
		return nil, b.GetErr
	}
	body, ok := b.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (b *Bucket) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.PutErr != nil {
		return nil, b.PutErr
	}
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, exists := b.objects[key]; exists {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
		}
	}

	var body []byte
	if in.Body != nil {
		var err error
		if body, err = io.ReadAll(in.Body); err != nil {
			return nil, err
		}
	}
	b.objects[key] = body
	b.types[key] = aws.ToString(in.ContentType)
	b.Puts++
	return &s3.PutObjectOutput{}, nil
}

func (b *Bucket) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ListErr != nil {
		return nil, b.ListErr
	}

	size := b.PageSize
	if size <= 0 {
		size = 1000
	}

	after := aws.ToString(in.ContinuationToken)
	var page []types.Object
	truncated := false
	for _, k := range b.keys(aws.ToString(in.Prefix)) {
		if after != "" && k <= after {
			continue
		}
		if len(page) == size {
			truncated = true
			break
		}
		page = append(page, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(b.objects[k])))})
	}

	out := &s3.ListObjectsV2Output{Contents: page, IsTruncated: aws.Bool(truncated), KeyCount: aws.Int32(int32(len(page)))}
	if truncated {
		out.NextContinuationToken = page[len(page)-1].Key
	}
	return out, nil
}
