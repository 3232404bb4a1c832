package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemQueue QueueStore 的内存实现：单测与单进程部署用。
// 所有变更都在同一把锁内完成，等价于 Redis 脚本的串行化语义；
// 横向扩容需要切到 RedisQueue（见 queue_redis.go）。
type MemQueue struct {
	mu         sync.Mutex
	entries    map[string]*QueueEntry
	fallbackMS int64
	scanLimit  int
}

func NewMemQueue(scanLimit int, fallback time.Duration) *MemQueue {
	if scanLimit <= 0 {
		scanLimit = 64
	}
	return &MemQueue{
		entries:    make(map[string]*QueueEntry),
		fallbackMS: fallback.Milliseconds(),
		scanLimit:  scanLimit,
	}
}

func (q *MemQueue) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	now := req.NowMS
	if now == 0 {
		now = time.Now().UnixMilli()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// 候选序：enqueue 最老优先，同时间按 connID 字典序（与 ZSET 一致）
	cands := make([]*QueueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		if e.ConnID != req.ConnID {
			cands = append(cands, e)
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].EnqueueTS != cands[j].EnqueueTS {
			return cands[i].EnqueueTS < cands[j].EnqueueTS
		}
		return cands[i].ConnID < cands[j].ConnID
	})
	if len(cands) > q.scanLimit {
		cands = cands[:q.scanLimit]
	}

	for _, c := range cands {
		if containsID(req.Exclude, c.ConnID) || containsID(c.Exclude, req.ConnID) {
			continue
		}
		if !Compatible(req.Tags, c.Tags, req.Wildcard, now-c.EnqueueTS, q.fallbackMS) {
			continue
		}
		delete(q.entries, c.ConnID)
		// 请求方自己的在队条目（回退重试场景）一并移除
		delete(q.entries, req.ConnID)
		cp := *c
		return &ClaimResult{Matched: true, Partner: &cp}, nil
	}

	if _, ok := q.entries[req.ConnID]; !ok {
		q.entries[req.ConnID] = &QueueEntry{
			ConnID:    req.ConnID,
			Tags:      append([]string(nil), req.Tags...),
			Exclude:   append([]string(nil), req.Exclude...),
			EnqueueTS: now,
		}
	}
	return &ClaimResult{Matched: false}, nil
}

func (q *MemQueue) Restore(ctx context.Context, e QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[e.ConnID]; ok {
		return nil
	}
	q.entries[e.ConnID] = &QueueEntry{
		ConnID:    e.ConnID,
		Tags:      append([]string(nil), e.Tags...),
		Exclude:   append([]string(nil), e.Exclude...),
		EnqueueTS: e.EnqueueTS,
	}
	return nil
}

func (q *MemQueue) Cancel(ctx context.Context, connID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, connID)
	return nil
}

func (q *MemQueue) SweepStale(ctx context.Context, olderThanMS int64) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var victims []string
	for id, e := range q.entries {
		if e.EnqueueTS <= olderThanMS {
			victims = append(victims, id)
			delete(q.entries, id)
		}
	}
	return victims, nil
}

func (q *MemQueue) Size(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

// Entry 读取一条在队条目（单测用）
func (q *MemQueue) Entry(connID string) (*QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[connID]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}
