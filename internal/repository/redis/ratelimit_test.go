package redisrepo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*SlidingWindowLimiter, redismock.ClientMock, time.Time) {
	t.Helper()

	db, mock := redismock.NewClientMock()
	now := time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC)

	l := NewSlidingWindowLimiter(db, "redeem", 10, time.Minute)
	l.now = func() time.Time { return now }
	l.member = func() string { return "m1" }

	return l, mock, now
}

func TestSlidingWindowLimiter_Allow_UnderLimit(t *testing.T) {
	l, mock, now := newTestLimiter(t)

	mock.ExpectEvalSha(
		l.script.Hash(),
		[]string{"tixgate:v1:rl:redeem:10.0.0.7"},
		now.UnixMilli(), time.Minute.Milliseconds(), 10, "m1",
	).SetVal([]any{int64(1), int64(3), int64(0)})

	d, err := l.Allow(context.Background(), "10.0.0.7")
	require.NoError(t, err)

	assert.True(t, d.Allowed)
	assert.Equal(t, int64(3), d.Current)
	assert.Zero(t, d.RetryAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlidingWindowLimiter_Allow_OverLimit(t *testing.T) {
	l, mock, now := newTestLimiter(t)

	mock.ExpectEvalSha(
		l.script.Hash(),
		[]string{"tixgate:v1:rl:redeem:10.0.0.7"},
		now.UnixMilli(), time.Minute.Milliseconds(), 10, "m1",
	).SetVal([]any{int64(0), int64(11), int64(42000)})

	d, err := l.Allow(context.Background(), "10.0.0.7")
	require.NoError(t, err)

	assert.False(t, d.Allowed)
	assert.Equal(t, int64(11), d.Current)
	assert.Equal(t, 42*time.Second, d.RetryAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlidingWindowLimiter_Allow_RedisError(t *testing.T) {
	l, mock, now := newTestLimiter(t)

	mock.ExpectEvalSha(
		l.script.Hash(),
		[]string{"tixgate:v1:rl:redeem:10.0.0.7"},
		now.UnixMilli(), time.Minute.Milliseconds(), 10, "m1",
	).SetErr(errors.New("connection refused"))

	_, err := l.Allow(context.Background(), "10.0.0.7")
	assert.ErrorContains(t, err, "connection refused")
}

func TestToInt(t *testing.T) {
	assert.Equal(t, int64(5), toInt(int64(5)))
	assert.Equal(t, int64(5), toInt(5))
	assert.Equal(t, int64(5), toInt(5.0))
	assert.Equal(t, int64(17), toInt("17"))
	assert.Equal(t, int64(0), toInt(nil))
}
