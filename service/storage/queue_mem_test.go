package storage

import (
	"context"
	"sync"
	"testing"
	"time"
)

func claim(t *testing.T, q *MemQueue, connID string, tags, exclude []string, nowMS int64) *ClaimResult {
	t.Helper()
	res, err := q.Claim(context.Background(), ClaimRequest{
		ConnID: connID, Tags: tags, Exclude: exclude, NowMS: nowMS,
	})
	if err != nil {
		t.Fatalf("Claim(%s) failed: %v", connID, err)
	}
	return res
}

func TestClaimEmptyQueueEnqueues(t *testing.T) {
	q := NewMemQueue(64, 15*time.Second)

	res := claim(t, q, "c1", nil, nil, 1000)
	if res.Matched {
		t.Fatalf("expected pending on empty queue, got match")
	}
	if _, ok := q.Entry("c1"); !ok {
		t.Fatalf("c1 should be enqueued")
	}
}

func TestClaimMatchesAndRemovesPartner(t *testing.T) {
	q := NewMemQueue(64, 15*time.Second)

	claim(t, q, "c1", nil, nil, 1000)
	res := claim(t, q, "c2", nil, nil, 2000)
	if !res.Matched || res.Partner.ConnID != "c1" {
		t.Fatalf("expected match with c1, got %+v", res)
	}
	// 被 claim 的条目必须同时出队
	if _, ok := q.Entry("c1"); ok {
		t.Fatalf("c1 must be removed after claim")
	}
	// 请求方不入队
	if _, ok := q.Entry("c2"); ok {
		t.Fatalf("c2 must not be enqueued after a successful claim")
	}
}

func TestClaimOldestFirstThenLexicographic(t *testing.T) {
	q := NewMemQueue(64, 0)

	// 种子之间两两互斥，铺队时不会彼此配走
	claim(t, q, "b", nil, []string{"a", "c"}, 2000)
	claim(t, q, "a", nil, []string{"b", "c"}, 1000) // 更早
	claim(t, q, "c", nil, []string{"a", "b"}, 2000)
	if n, _ := q.Size(context.Background()); n != 3 {
		t.Fatalf("seed entries must all stay queued, size=%d", n)
	}

	res := claim(t, q, "x", nil, nil, 3000)
	if !res.Matched || res.Partner.ConnID != "a" {
		t.Fatalf("oldest entry should win, got %+v", res.Partner)
	}
	// b 与 c 同时刻：按 connID 字典序
	res = claim(t, q, "y", nil, nil, 3000)
	if !res.Matched || res.Partner.ConnID != "b" {
		t.Fatalf("lexicographic tie-break expected b, got %+v", res.Partner)
	}
}

func TestClaimTagIntersection(t *testing.T) {
	q := NewMemQueue(64, 0)

	claim(t, q, "music", []string{"music"}, nil, 1000)

	// 无交集：不匹配，自己入队
	res := claim(t, q, "sports", []string{"sports"}, nil, 2000)
	if res.Matched {
		t.Fatalf("disjoint tags must not match")
	}

	// 有交集：匹配最老的兼容者
	res = claim(t, q, "mixed", []string{"music", "movies"}, nil, 3000)
	if !res.Matched || res.Partner.ConnID != "music" {
		t.Fatalf("expected match with music, got %+v", res.Partner)
	}
}

func TestClaimBothEmptyTagsCompatible(t *testing.T) {
	q := NewMemQueue(64, 0)
	claim(t, q, "c1", nil, nil, 1000)
	res := claim(t, q, "c2", []string{}, nil, 2000)
	if !res.Matched {
		t.Fatalf("two untagged entries must be compatible")
	}
}

func TestClaimExclusionBothDirections(t *testing.T) {
	q := NewMemQueue(64, 0)

	// 请求方排除候选
	claim(t, q, "c1", nil, nil, 1000)
	res := claim(t, q, "c2", nil, []string{"c1"}, 2000)
	if res.Matched {
		t.Fatalf("requester exclusion must block the match")
	}

	// 候选排除请求方
	q2 := NewMemQueue(64, 0)
	claim(t, q2, "c1", nil, []string{"c2"}, 1000)
	res = claim(t, q2, "c2", nil, nil, 2000)
	if res.Matched {
		t.Fatalf("candidate exclusion must block the match")
	}
	// 互斥之外的第三方不受影响
	res = claim(t, q2, "c3", nil, nil, 3000)
	if !res.Matched || res.Partner.ConnID != "c1" {
		t.Fatalf("expected c3 to match c1, got %+v", res.Partner)
	}
}

func TestClaimUntaggedWaitsForCandidateFallback(t *testing.T) {
	fallback := 15 * time.Second
	q := NewMemQueue(64, fallback)

	// 带标签的候选入队
	claim(t, q, "tagged", []string{"music"}, nil, 1000)

	// 无标签请求方：候选未超窗 -> 不匹配
	res := claim(t, q, "plain", nil, nil, 2000)
	if res.Matched {
		t.Fatalf("untagged requester must not take a fresh tagged candidate")
	}
	_ = q.Cancel(context.Background(), "plain")

	// 候选等待超过回退窗口 -> 可以被无标签请求方接走
	res = claim(t, q, "plain2", nil, nil, 1000+fallback.Milliseconds())
	if !res.Matched || res.Partner.ConnID != "tagged" {
		t.Fatalf("overdue tagged candidate should fall back, got %+v", res.Partner)
	}
}

func TestClaimWildcardIgnoresTags(t *testing.T) {
	q := NewMemQueue(64, 0)
	claim(t, q, "tagged", []string{"music"}, nil, 1000)

	res, err := q.Claim(context.Background(), ClaimRequest{
		ConnID: "fallback", Tags: []string{"sports"}, Wildcard: true, NowMS: 2000,
	})
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if !res.Matched || res.Partner.ConnID != "tagged" {
		t.Fatalf("wildcard claim should match anyone, got %+v", res)
	}
}

func TestClaimKeepsOriginalEnqueueTime(t *testing.T) {
	q := NewMemQueue(64, 0)
	claim(t, q, "c1", []string{"x"}, nil, 1000)
	// 重复 claim 不刷新排队时间
	claim(t, q, "c1", []string{"x"}, nil, 5000)
	e, ok := q.Entry("c1")
	if !ok || e.EnqueueTS != 1000 {
		t.Fatalf("enqueue time must be preserved, got %+v", e)
	}
}

func TestClaimRemovesRequesterOwnEntry(t *testing.T) {
	q := NewMemQueue(64, 0)
	claim(t, q, "a", []string{"x"}, nil, 1000)
	claim(t, q, "b", []string{"y"}, nil, 2000)

	// a 回退重试：匹配成功后 a 自己的在队条目也要消失
	res, err := q.Claim(context.Background(), ClaimRequest{ConnID: "a", Wildcard: true, NowMS: 3000})
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if !res.Matched || res.Partner.ConnID != "b" {
		t.Fatalf("wildcard retry should match b, got %+v", res)
	}
	if n, _ := q.Size(context.Background()); n != 0 {
		t.Fatalf("both entries must be gone, size=%d", n)
	}
}

func TestRestorePreservesEnqueueTime(t *testing.T) {
	q := NewMemQueue(64, 0)
	claim(t, q, "c1", []string{"x"}, []string{"old"}, 1000)

	res := claim(t, q, "c2", []string{"x"}, nil, 5000)
	if !res.Matched || res.Partner.ConnID != "c1" {
		t.Fatalf("expected match with c1, got %+v", res)
	}

	if err := q.Restore(context.Background(), *res.Partner); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	e, ok := q.Entry("c1")
	if !ok {
		t.Fatalf("restored entry missing")
	}
	if e.EnqueueTS != 1000 {
		t.Fatalf("enqueue time must survive, got %d", e.EnqueueTS)
	}
	if len(e.Tags) != 1 || e.Tags[0] != "x" || len(e.Exclude) != 1 || e.Exclude[0] != "old" {
		t.Fatalf("tags/exclude must ride along, got %+v", e)
	}

	// 已在队的条目不被覆盖
	later := *res.Partner
	later.EnqueueTS = 9000
	if err := q.Restore(context.Background(), later); err != nil {
		t.Fatalf("second restore failed: %v", err)
	}
	if e, _ := q.Entry("c1"); e.EnqueueTS != 1000 {
		t.Fatalf("restore must not overwrite an existing entry, got %d", e.EnqueueTS)
	}
}

func TestCancelIdempotent(t *testing.T) {
	q := NewMemQueue(64, 0)
	claim(t, q, "c1", nil, nil, 1000)

	if err := q.Cancel(context.Background(), "c1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := q.Cancel(context.Background(), "c1"); err != nil {
		t.Fatalf("second cancel must be a no-op, got %v", err)
	}
	if n, _ := q.Size(context.Background()); n != 0 {
		t.Fatalf("queue should be empty, size=%d", n)
	}
}

func TestSweepStale(t *testing.T) {
	q := NewMemQueue(64, 0)
	claim(t, q, "old", nil, []string{"fresh"}, 1000)
	claim(t, q, "fresh", nil, []string{"old"}, 9000)

	victims, err := q.SweepStale(context.Background(), 5000)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(victims) != 1 || victims[0] != "old" {
		t.Fatalf("expected [old], got %v", victims)
	}
	if _, ok := q.Entry("fresh"); !ok {
		t.Fatalf("fresh entry must survive the sweep")
	}
}

// 并发 claim：同一个候选不允许被两个请求方同时摘走
func TestClaimConcurrentSingleConsumption(t *testing.T) {
	q := NewMemQueue(64, 0)
	claim(t, q, "victim", nil, nil, 1000)

	const n = 32
	var wg sync.WaitGroup
	matches := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := q.Claim(context.Background(), ClaimRequest{
				ConnID: "claimer-" + string(rune('a'+i)), NowMS: 2000,
			})
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			if res.Matched {
				matches <- res.Partner.ConnID
			}
		}(i)
	}
	wg.Wait()
	close(matches)

	got := 0
	for p := range matches {
		if p == "victim" {
			got++
		}
	}
	if got != 1 {
		t.Fatalf("victim consumed %d times, want exactly 1", got)
	}
}
