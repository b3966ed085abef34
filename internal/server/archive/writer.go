// Package archive stores fetched activity batches as immutable JSON objects.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/stravasync/internal/common"
	"github.com/dmitrijs2005/stravasync/internal/server/blob"
	"github.com/dmitrijs2005/stravasync/internal/server/models"
)

const DefaultPrefix = "activities"

type Writer struct {
	api    blob.ObjectAPI
	bucket string
	prefix string
}

func NewWriter(api blob.ObjectAPI, bucket, prefix string) *Writer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Writer{api: api, bucket: bucket, prefix: prefix}
}

// Key returns the object key of the batch archived for userID at ts.
func (w *Writer) Key(userID string, ts time.Time) string {
	return path.Join(w.prefix, userID, strconv.FormatInt(ts.UnixMilli(), 10)+".json")
}

// maxKeyAttempts bounds how many consecutive milliseconds Write tries
// when the key derived from ts is already taken.
const maxKeyAttempts = 8

// Write stores batch under a key derived from userID and ts and returns the
// key. An empty batch writes nothing and returns "". Existing objects are
// never replaced: when the key is taken the next millisecond is tried, and
// once maxKeyAttempts keys are taken the write fails with
// common.ErrArchiveExists.
func (w *Writer) Write(ctx context.Context, userID string, batch []models.Activity, ts time.Time) (string, error) {
	if len(batch) == 0 {
		return "", nil
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("encode batch: %w", err)
	}

	var lastErr error
	for i := 0; i < maxKeyAttempts; i++ {
		key := w.Key(userID, ts.Add(time.Duration(i)*time.Millisecond))
		err := w.put(ctx, key, body)
		if err == nil {
			return key, nil
		}
		if !blob.IsPreconditionFailed(err) {
			return "", blob.StorageError("put "+key, err)
		}
		lastErr = fmt.Errorf("%w: %s: %w", common.ErrArchiveExists, key, err)
	}

	return "", common.StorageError("put archive", lastErr)
}

func (w *Writer) put(ctx context.Context, key string, body []byte) error {
	_, err := w.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(common.ContentTypeJSON),
		IfNoneMatch: aws.String("*"),
	})
	return err
}
