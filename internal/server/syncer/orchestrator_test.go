package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/stravasync/internal/common"
	"github.com/dmitrijs2005/stravasync/internal/server/archive"
	"github.com/dmitrijs2005/stravasync/internal/server/blob/blobtest"
	"github.com/dmitrijs2005/stravasync/internal/server/models"
	"github.com/dmitrijs2005/stravasync/internal/server/tokenstore"
)

type item struct {
	rec *models.TokenRecord
	err error
}

type fakeLister []item

func (l fakeLister) All(ctx context.Context) iter.Seq2[*models.TokenRecord, error] {
	return func(yield func(*models.TokenRecord, error) bool) {
		for _, it := range l {
			if !yield(it.rec, it.err) {
				return
			}
		}
	}
}

func users(ids ...string) fakeLister {
	out := make(fakeLister, 0, len(ids))
	for _, id := range ids {
		out = append(out, item{rec: &models.TokenRecord{UserID: id}})
	}
	return out
}

type fakeTokens struct {
	fail map[string]error
}

func (f *fakeTokens) EnsureValid(ctx context.Context, userID string) (*models.TokenRecord, error) {
	if err := f.fail[userID]; err != nil {
		return nil, err
	}
	return &models.TokenRecord{UserID: userID, AccessToken: "acc-" + userID}, nil
}

type fakeFetcher struct {
	batches  map[string]string
	fail     map[string]error
	block    map[string]bool
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeFetcher) Fetch(ctx context.Context, rec *models.TokenRecord) ([]models.Activity, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	user := rec.UserID
	if f.block[user] {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", common.ErrFetch, ctx.Err())
	}
	if err := f.fail[user]; err != nil {
		return nil, err
	}
	raw, ok := f.batches[user]
	if !ok {
		raw = `[{"id":1}]`
	}
	var out []models.Activity
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

type fakeArchive struct {
	mu     sync.Mutex
	writes map[string]int
	fail   map[string]error
}

func (a *fakeArchive) Write(ctx context.Context, userID string, batch []models.Activity, ts time.Time) (string, error) {
	if err := a.fail[userID]; err != nil {
		return "", err
	}
	if len(batch) == 0 {
		return "", nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writes == nil {
		a.writes = map[string]int{}
	}
	a.writes[userID]++
	return fmt.Sprintf("activities/%s/%d.json", userID, ts.UnixMilli()), nil
}

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newOrchestrator(l Lister, tk TokenEnsurer, f ActivityFetcher, a Archiver, opts ...Option) *Orchestrator {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewOrchestrator(l, tk, f, a, opts...)
}

func TestSyncUser(t *testing.T) {
	a := &fakeArchive{}
	o := newOrchestrator(nil, &fakeTokens{}, &fakeFetcher{batches: map[string]string{"42": `[{"id":7},{"id":8}]`}}, a)

	batch, key, err := o.SyncUser(context.Background(), "42")
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, "activities/42/1700000000000.json", key)
	assert.Equal(t, 1, a.writes["42"])
}

func TestSyncUser_RepeatedWithinSameMillisecond(t *testing.T) {
	bucket := blobtest.NewBucket()
	o := newOrchestrator(nil, &fakeTokens{}, &fakeFetcher{}, archive.NewWriter(bucket, "bkt", "activities"))

	_, first, err := o.SyncUser(context.Background(), "42")
	require.NoError(t, err)
	_, second, err := o.SyncUser(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "activities/42/1700000000000.json", first)
	assert.Equal(t, "activities/42/1700000000001.json", second)
	assert.Equal(t, 2, bucket.Puts)
}

func TestSyncUser_Unauthenticated(t *testing.T) {
	f := &fakeFetcher{}
	a := &fakeArchive{}
	tk := &fakeTokens{fail: map[string]error{"9": fmt.Errorf("%w: user 9", common.ErrUnauthenticated)}}

	_, _, err := newOrchestrator(nil, tk, f, a).SyncUser(context.Background(), "9")
	assert.ErrorIs(t, err, common.ErrUnauthenticated)
	assert.Zero(t, f.peak.Load())
	assert.Empty(t, a.writes)
}

func TestSyncAll_IsolatesFailures(t *testing.T) {
	tk := &fakeTokens{fail: map[string]error{
		"A": &common.UpstreamError{Kind: common.ErrOAuth, Op: "refresh", Status: 400, Body: "bad"},
	}}
	f := &fakeFetcher{
		batches: map[string]string{"B": `[{"id":1},{"id":2},{"id":3}]`, "D": `[]`},
		fail:    map[string]error{"C": common.Malformed("get activities", "activity without id")},
	}
	a := &fakeArchive{}

	res, err := newOrchestrator(users("A", "B", "C", "D"), tk, f, a).SyncAll(context.Background())
	require.NoError(t, err)
	require.Len(t, res, 4)

	assert.False(t, res["A"].OK())
	assert.Contains(t, res["A"].Error, "upstream status 400")

	require.True(t, res["B"].OK())
	assert.Equal(t, 3, *res["B"].Count)
	assert.Equal(t, "activities/B/1700000000000.json", res["B"].Archive)

	assert.False(t, res["C"].OK())
	assert.Contains(t, res["C"].Error, "malformed")

	require.True(t, res["D"].OK())
	assert.Equal(t, 0, *res["D"].Count)
	assert.Empty(t, res["D"].Archive)

	assert.Equal(t, map[string]int{"B": 1}, a.writes)
}

func TestSyncAll_RecordErrorIsUserEntry(t *testing.T) {
	l := fakeLister{
		{rec: &models.TokenRecord{UserID: "1"}},
		{err: &tokenstore.RecordError{UserID: "2", Err: common.StorageError("decode", tokenstore.ErrCorruptRecord)}},
		{rec: &models.TokenRecord{UserID: "3"}},
	}

	res, err := newOrchestrator(l, &fakeTokens{}, &fakeFetcher{}, &fakeArchive{}).SyncAll(context.Background())
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.True(t, res["1"].OK())
	assert.Contains(t, res["2"].Error, "corrupt token record")
	assert.True(t, res["3"].OK())
}

func TestSyncAll_EnumerationFaultAbortsRun(t *testing.T) {
	listErr := common.StorageError("list token records", errors.New("connection refused"))
	l := fakeLister{
		{rec: &models.TokenRecord{UserID: "1"}},
		{err: listErr},
		{rec: &models.TokenRecord{UserID: "never"}},
	}
	a := &fakeArchive{}

	res, err := newOrchestrator(l, &fakeTokens{}, &fakeFetcher{}, a).SyncAll(context.Background())
	assert.ErrorIs(t, err, common.ErrStorage)
	assert.Contains(t, res, "1")
	assert.NotContains(t, res, "never")
	assert.Equal(t, 1, a.writes["1"])
}

func TestSyncAll_NoUsers(t *testing.T) {
	res, err := newOrchestrator(fakeLister{}, &fakeTokens{}, &fakeFetcher{}, &fakeArchive{}).SyncAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSyncAll_BoundedConcurrency(t *testing.T) {
	f := &fakeFetcher{delay: 10 * time.Millisecond}
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}

	res, err := newOrchestrator(users(ids...), &fakeTokens{}, f, &fakeArchive{}, WithConcurrency(3)).SyncAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, res, 12)
	assert.LessOrEqual(t, f.peak.Load(), int32(3))
	assert.GreaterOrEqual(t, f.peak.Load(), int32(1))
}

func TestSyncAll_PerUserTimeout(t *testing.T) {
	f := &fakeFetcher{block: map[string]bool{"slow": true}}

	res, err := newOrchestrator(users("slow", "fast"), &fakeTokens{}, f, &fakeArchive{},
		WithUserTimeout(20*time.Millisecond)).SyncAll(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res["slow"].Error, context.DeadlineExceeded.Error())
	assert.True(t, res["fast"].OK())
}
