package storage

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// 需要本机 redis（127.0.0.1:6379）；不可达则跳过
func newTestRedisQueue(t *testing.T) (*RedisQueue, *redis.Client) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 9})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	cleanup := func() {
		keys, _ := rdb.Keys(context.Background(), keyEntryPrefix+"*").Result()
		keys = append(keys, keyWait)
		rdb.Del(context.Background(), keys...)
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		_ = rdb.Close()
	})
	return NewRedisQueueWithClient(rdb, 64, 15*time.Second), rdb
}

func TestRedisClaimMatchesOldestAndDrains(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	res, err := q.Claim(ctx, ClaimRequest{ConnID: "r1", NowMS: 1000})
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if res.Matched {
		t.Fatalf("empty pool must enqueue, got match")
	}
	if n, _ := q.Size(ctx); n != 1 {
		t.Fatalf("want size 1, got %d", n)
	}

	res, err = q.Claim(ctx, ClaimRequest{ConnID: "r2", NowMS: 2000})
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !res.Matched || res.Partner.ConnID != "r1" {
		t.Fatalf("want match with r1, got %+v", res)
	}
	// 双方条目都出清：被 claim 的 r1 和请求方 r2 都不残留
	if n, _ := q.Size(ctx); n != 0 {
		t.Fatalf("pool should drain after match, size=%d", n)
	}
}

func TestRedisClaimHonorsTagsAndExclusion(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	if _, err := q.Claim(ctx, ClaimRequest{ConnID: "music", Tags: []string{"music"}, NowMS: 1000}); err != nil {
		t.Fatalf("enqueue music: %v", err)
	}
	res, err := q.Claim(ctx, ClaimRequest{ConnID: "sports", Tags: []string{"sports"}, NowMS: 2000})
	if err != nil {
		t.Fatalf("claim sports: %v", err)
	}
	if res.Matched {
		t.Fatalf("disjoint tags must not match")
	}

	res, err = q.Claim(ctx, ClaimRequest{ConnID: "mixed", Tags: []string{"music", "movies"}, Exclude: []string{"sports"}, NowMS: 3000})
	if err != nil {
		t.Fatalf("claim mixed: %v", err)
	}
	if !res.Matched || res.Partner.ConnID != "music" {
		t.Fatalf("want match with music, got %+v", res)
	}
	if len(res.Partner.Tags) != 1 || res.Partner.Tags[0] != "music" {
		t.Fatalf("partner tags should ride back, got %v", res.Partner.Tags)
	}
}

func TestRedisClaimOldestFirstTieBreak(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	// 种子之间两两互斥，铺队时不会彼此配走
	seed := func(id string, excl []string, ts int64) {
		t.Helper()
		res, err := q.Claim(ctx, ClaimRequest{ConnID: id, Exclude: excl, NowMS: ts})
		if err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
		if res.Matched {
			t.Fatalf("seed %s must not match, got partner %s", id, res.Partner.ConnID)
		}
	}
	seed("b", []string{"a", "c"}, 2000)
	seed("a", []string{"b", "c"}, 1000)
	seed("c", []string{"a", "b"}, 2000)

	res, err := q.Claim(ctx, ClaimRequest{ConnID: "x", NowMS: 3000})
	if err != nil {
		t.Fatalf("claim x: %v", err)
	}
	if !res.Matched || res.Partner.ConnID != "a" {
		t.Fatalf("oldest entry should win, got %+v", res.Partner)
	}
	// b 与 c 同分：按 connID 字典序
	res, err = q.Claim(ctx, ClaimRequest{ConnID: "y", NowMS: 3000})
	if err != nil {
		t.Fatalf("claim y: %v", err)
	}
	if !res.Matched || res.Partner.ConnID != "b" {
		t.Fatalf("lexicographic tie-break expected b, got %+v", res.Partner)
	}
}

func TestRedisCancelRemovesEntry(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	_, _ = q.Claim(ctx, ClaimRequest{ConnID: "c1", NowMS: 1000})
	if err := q.Cancel(ctx, "c1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if n, _ := q.Size(ctx); n != 0 {
		t.Fatalf("cancelled entry must leave the pool, size=%d", n)
	}
	// 幂等
	if err := q.Cancel(ctx, "c1"); err != nil {
		t.Fatalf("second cancel should be tolerated: %v", err)
	}
}

func TestRedisRestorePreservesEnqueueTime(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	if _, err := q.Claim(ctx, ClaimRequest{ConnID: "c1", Tags: []string{"x"}, NowMS: 1000}); err != nil {
		t.Fatalf("enqueue c1: %v", err)
	}
	res, err := q.Claim(ctx, ClaimRequest{ConnID: "c2", Tags: []string{"x"}, NowMS: 5000})
	if err != nil {
		t.Fatalf("claim c2: %v", err)
	}
	if !res.Matched || res.Partner.ConnID != "c1" {
		t.Fatalf("want match with c1, got %+v", res)
	}

	if err := q.Restore(ctx, *res.Partner); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if n, _ := q.Size(ctx); n != 1 {
		t.Fatalf("restored entry should be back, size=%d", n)
	}
	// 复原后的条目按原 enqueue 时间参与排序，可以被再次摘走
	res, err = q.Claim(ctx, ClaimRequest{ConnID: "c3", Tags: []string{"x"}, NowMS: 6000})
	if err != nil {
		t.Fatalf("claim c3: %v", err)
	}
	if !res.Matched || res.Partner.ConnID != "c1" || res.Partner.EnqueueTS != 1000 {
		t.Fatalf("restored entry should keep its enqueue time, got %+v", res.Partner)
	}
}

func TestRedisSweepStale(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	_, _ = q.Claim(ctx, ClaimRequest{ConnID: "old", NowMS: 1000})
	_, _ = q.Claim(ctx, ClaimRequest{ConnID: "fresh", Tags: []string{"x"}, NowMS: 9000})

	victims, err := q.SweepStale(ctx, 5000)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(victims) != 1 || victims[0] != "old" {
		t.Fatalf("want [old], got %v", victims)
	}
	if n, _ := q.Size(ctx); n != 1 {
		t.Fatalf("fresh entry must survive, size=%d", n)
	}
}
