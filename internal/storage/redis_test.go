package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/hyperjump/mnemo/internal/models"
)

func TestRedisCache_GetHit(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	data, _ := json.Marshal(sampleDoc("a"))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "mnemo:doc:a")).
		Return(mock.Result(mock.RedisString(string(data))))

	cache := NewRedisCacheWithClient(c, "mnemo:doc:", time.Minute, nil)
	doc, ok := cache.Get(context.Background(), "a")
	if !ok {
		t.Fatal("expected hit")
	}
	if doc.ID != "a" || len(doc.Vector) != 3 || doc.Metadata.String("source") != "unit" {
		t.Errorf("decoded %+v", doc)
	}
}

func TestRedisCache_GetMissOnNil(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "mnemo:doc:a")).
		Return(mock.ErrorResult(rueidis.Nil))

	cache := NewRedisCacheWithClient(c, "mnemo:doc:", time.Minute, nil)
	if _, ok := cache.Get(context.Background(), "a"); ok {
		t.Error("expected miss")
	}
}

func TestRedisCache_GetErrorIsMiss(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "mnemo:doc:a")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	cache := NewRedisCacheWithClient(c, "mnemo:doc:", time.Minute, nil)
	if _, ok := cache.Get(context.Background(), "a"); ok {
		t.Error("expected failure to be a miss")
	}
}

func TestRedisCache_SetUsesTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return len(cmd) == 5 && cmd[0] == "SET" && cmd[1] == "mnemo:doc:a" && cmd[3] == "EX" && cmd[4] == "60"
		})).
		Return(mock.Result(mock.RedisString("OK")))

	cache := NewRedisCacheWithClient(c, "mnemo:doc:", time.Minute, nil)
	cache.Set(context.Background(), sampleDoc("a"))
}

func TestRedisCache_DeleteSwallowsError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "mnemo:doc:a")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	cache := NewRedisCacheWithClient(c, "mnemo:doc:", time.Minute, nil)
	cache.Delete(context.Background(), "a")
}

func TestRedisCache_BacksCachedStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)
	inner, _ := NewSQLiteStore(DriverCGO, ":memory:")
	defer inner.Close()

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "SET" })).
		Return(mock.Result(mock.RedisString("OK")))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "mnemo:doc:a")).
		Return(mock.Result(mock.RedisInt64(1)))

	s := NewCachedStore(inner, 8, WithSharedCache(NewRedisCacheWithClient(c, "mnemo:doc:", time.Minute, nil)))
	ctx := context.Background()
	if err := s.Put(ctx, sampleDoc("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := inner.Get(ctx, "a"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("durable delete did not happen: %v", err)
	}
}
