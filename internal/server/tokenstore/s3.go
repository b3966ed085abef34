package tokenstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/stravasync/internal/common"
	"github.com/dmitrijs2005/stravasync/internal/server/blob"
	"github.com/dmitrijs2005/stravasync/internal/server/models"
)

// S3Store keeps each record as {prefix}/{userID}.json.
type S3Store struct {
	api    blob.ObjectAPI
	bucket string
	prefix string
}

func NewS3Store(api blob.ObjectAPI, bucket, prefix string) *S3Store {
	return &S3Store{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Store) key(userID string) string {
	return path.Join(s.prefix, userID+".json")
}

func (s *S3Store) Get(ctx context.Context, userID string) (*models.TokenRecord, error) {
	if checkUserID(userID) != nil {
		return nil, common.ErrorNotFound
	}
	return s.read(ctx, s.key(userID), userID)
}

func (s *S3Store) read(ctx context.Context, key, userID string) (*models.TokenRecord, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if blob.IsNotFound(err) {
			return nil, common.ErrorNotFound
		}
		return nil, blob.StorageError("get token", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, blob.StorageError("read token", err)
	}

	rec := &models.TokenRecord{}
	if err := json.Unmarshal(body, rec); err != nil {
		return nil, common.StorageError("decode token", fmt.Errorf("%w: %s: %w", ErrCorruptRecord, key, err))
	}
	// the object key is authoritative for the user id
	rec.UserID = userID
	if err := rec.Validate(); err != nil {
		return nil, common.StorageError("decode token", fmt.Errorf("%w: %s: %w", ErrCorruptRecord, key, err))
	}
	return rec, nil
}

func (s *S3Store) Put(ctx context.Context, rec *models.TokenRecord) error {
	if err := checkUserID(rec.UserID); err != nil {
		return err
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(rec.UserID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(common.ContentTypeJSON),
	})
	if err != nil {
		return blob.StorageError("put token", err)
	}
	return nil
}

// All lists {prefix}/ page by page and fetches each record as it goes.
// A record that cannot be read is yielded as *RecordError; a failed
// listing ends the enumeration with a storage error. Objects deleted
// between listing and reading are skipped.
func (s *S3Store) All(ctx context.Context) iter.Seq2[*models.TokenRecord, error] {
	return func(yield func(*models.TokenRecord, error) bool) {
		listPrefix := s.prefix + "/"
		if s.prefix == "" {
			listPrefix = ""
		}
		p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(listPrefix),
		})

		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				yield(nil, blob.StorageError("list tokens", err))
				return
			}

			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				name := strings.TrimPrefix(key, listPrefix)
				if !strings.HasSuffix(name, ".json") || strings.Contains(name, "/") {
					continue
				}
				userID := strings.TrimSuffix(name, ".json")
				if checkUserID(userID) != nil {
					continue
				}

				rec, err := s.read(ctx, key, userID)
				if errors.Is(err, common.ErrorNotFound) {
					continue
				}
				if err != nil {
					if !yield(nil, &RecordError{UserID: userID, Err: err}) {
						return
					}
					continue
				}
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}
