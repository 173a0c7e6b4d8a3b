package redisrepo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrSetJSON_MissLoadsAndStores(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewCache(db)

	mock.ExpectGet("k").RedisNil()
	mock.ExpectGet("k").RedisNil()
	mock.ExpectSet("k", `{"total_requests":4,"pending_requests":1,"approved_requests":2,"rejected_requests":1,"total_tickets":5,"valid_tickets":3,"redeemed_tickets":2,"cancelled_tickets":0,"expired_tickets":0}`, 30*time.Second).SetVal("OK")

	calls := 0
	got, err := GetOrSetJSON(context.Background(), c, "k", 30*time.Second, func(context.Context) (domain.Stats, error) {
		calls++
		return domain.Stats{
			TotalRequests: 4, PendingRequests: 1, ApprovedRequests: 2, RejectedRequests: 1,
			TotalTickets: 5, ValidTickets: 3, RedeemedTickets: 2,
		}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(2), got.RedeemedTickets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrSetJSON_HitSkipsLoader(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewCache(db)

	mock.ExpectGet("k").SetVal(`{"valid_tickets":9}`)

	got, err := GetOrSetJSON(context.Background(), c, "k", time.Minute, func(context.Context) (domain.Stats, error) {
		t.Fatal("loader must not run on a hit")
		return domain.Stats{}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(9), got.ValidTickets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrSetJSON_LoaderErrorIsReturned(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewCache(db)

	mock.ExpectGet("k").RedisNil()
	mock.ExpectGet("k").RedisNil()

	_, err := GetOrSetJSON(context.Background(), c, "k", time.Minute, func(context.Context) (domain.Stats, error) {
		return domain.Stats{}, errors.New("db down")
	})
	assert.ErrorContains(t, err, "db down")
}

func TestCache_InvalidateStats(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewCache(db)

	mock.ExpectDel("tixgate:v1:stats").SetVal(1)

	require.NoError(t, c.InvalidateStats(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
