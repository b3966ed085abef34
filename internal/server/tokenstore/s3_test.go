package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/stravasync/internal/common"
	"github.com/dmitrijs2005/stravasync/internal/server/blob/blobtest"
	"github.com/dmitrijs2005/stravasync/internal/server/models"
)

func TestS3Store_Layout(t *testing.T) {
	b := blobtest.NewBucket()
	s := NewS3Store(b, "bucket", "/strava_tokens/")

	require.NoError(t, s.Put(context.Background(), &models.TokenRecord{UserID: "42", AccessToken: "a", RefreshToken: "r", ExpiresAt: 99}))

	body, ok := b.Object("strava_tokens/42.json")
	require.True(t, ok)
	assert.Equal(t, common.ContentTypeJSON, b.ContentType("strava_tokens/42.json"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, map[string]any{"user_id": "42", "access_token": "a", "refresh_token": "r", "expires_at": float64(99)}, doc)
}

func TestS3Store_GetCorruptRecord(t *testing.T) {
	b := blobtest.NewBucket()
	b.Set("strava_tokens/5.json", []byte(`{"access_token": 12`))
	s := NewS3Store(b, "bucket", "strava_tokens")

	_, err := s.Get(context.Background(), "5")
	assert.ErrorIs(t, err, common.ErrStorage)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestS3Store_GetAccessDenied(t *testing.T) {
	b := blobtest.NewBucket()
	b.GetErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	s := NewS3Store(b, "bucket", "strava_tokens")

	_, err := s.Get(context.Background(), "5")
	assert.ErrorIs(t, err, common.ErrStorage)
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
}

func TestS3Store_PutError(t *testing.T) {
	b := blobtest.NewBucket()
	b.PutErr = errors.New("connection reset")
	s := NewS3Store(b, "bucket", "strava_tokens")

	err := s.Put(context.Background(), &models.TokenRecord{UserID: "1", AccessToken: "a", RefreshToken: "r", ExpiresAt: 1})
	assert.ErrorIs(t, err, common.ErrStorage)
}

func TestS3Store_AllIsolatesBadRecords(t *testing.T) {
	b := blobtest.NewBucket()
	s := NewS3Store(b, "bucket", "strava_tokens")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &models.TokenRecord{UserID: "1", AccessToken: "a", RefreshToken: "r", ExpiresAt: 1}))
	require.NoError(t, s.Put(ctx, &models.TokenRecord{UserID: "3", AccessToken: "a", RefreshToken: "r", ExpiresAt: 1}))
	b.Set("strava_tokens/2.json", []byte(`not json`))
	b.Set("strava_tokens/README.txt", []byte(`ignored`))
	b.Set("strava_tokens/nested/4.json", []byte(`{}`))
	b.Set("other/9.json", []byte(`{}`))

	var ids []string
	var recErr *RecordError
	for rec, err := range s.All(ctx) {
		if err != nil {
			require.ErrorAs(t, err, &recErr)
			continue
		}
		ids = append(ids, rec.UserID)
	}

	assert.ElementsMatch(t, []string{"1", "3"}, ids)
	require.NotNil(t, recErr)
	assert.Equal(t, "2", recErr.UserID)
	assert.ErrorIs(t, recErr, ErrCorruptRecord)
}

func TestS3Store_AllListingFailure(t *testing.T) {
	b := blobtest.NewBucket()
	b.ListErr = errors.New("bucket unreachable")
	s := NewS3Store(b, "bucket", "strava_tokens")

	var errs []error
	for _, err := range s.All(context.Background()) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], common.ErrStorage)

	var recErr *RecordError
	assert.False(t, errors.As(errs[0], &recErr), "listing failures are not per-record")
}
