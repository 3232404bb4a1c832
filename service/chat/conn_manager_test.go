package chat

import (
	"sync"
	"testing"
	"time"

	errors "APChat/tools/errs"
)

func newTestManager(t *testing.T, clock func() time.Time) *ConnManager {
	t.Helper()
	m := NewConnManagerWithConf(ManagerConf{
		SendBuffer: 2,
		IdleTTL:    10 * time.Minute,
		SweepEvery: time.Hour, // 单测自己驱动 sweepOnce
		Clock:      clock,
	}, "gw-test")
	t.Cleanup(m.Close)
	return m
}

func TestRegisterAndDuplicate(t *testing.T) {
	m := newTestManager(t, nil)

	w, err := m.Register("c1", "u1", nil)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if w.ConnID != "c1" || w.UserID != "u1" {
		t.Fatalf("unexpected record: %+v", w)
	}
	if p, ok := m.Phase("c1"); !ok || p != PhaseIdle {
		t.Fatalf("new conn should be IDLE, got %v", p)
	}

	_, err = m.Register("c1", "", nil)
	if errors.CodeOf(err) != errors.DuplicateConnectionError {
		t.Fatalf("duplicate register should fail, got %v", err)
	}
}

func TestPhaseTransitions(t *testing.T) {
	m := newTestManager(t, nil)
	_, _ = m.Register("c1", "", nil)

	// IDLE -> QUEUED -> PAIRED -> IDLE
	if err := m.MarkQueued("c1"); err != nil {
		t.Fatalf("IDLE->QUEUED failed: %v", err)
	}
	if err := m.MarkPaired("c1"); err != nil {
		t.Fatalf("QUEUED->PAIRED failed: %v", err)
	}
	if err := m.MarkIdle("c1"); err != nil {
		t.Fatalf("PAIRED->IDLE failed: %v", err)
	}

	// 非法迁移
	if err := m.MarkPaired("c1"); errors.CodeOf(err) != errors.InvalidTransitionError {
		t.Fatalf("IDLE->PAIRED must be rejected, got %v", err)
	}
	_ = m.MarkQueued("c1")
	if err := m.MarkQueued("c1"); errors.CodeOf(err) != errors.AlreadyQueuedError {
		t.Fatalf("QUEUED->QUEUED should report AlreadyQueued, got %v", err)
	}
	// QUEUED -> IDLE（取消路径）
	if err := m.MarkIdle("c1"); err != nil {
		t.Fatalf("QUEUED->IDLE failed: %v", err)
	}

	// 不存在的连接
	if err := m.MarkQueued("nope"); errors.CodeOf(err) != errors.NotFoundError {
		t.Fatalf("missing conn should report NotFound, got %v", err)
	}
}

func TestMarkQueuedWhilePaired(t *testing.T) {
	m := newTestManager(t, nil)
	_, _ = m.Register("c1", "", nil)
	_ = m.MarkQueued("c1")
	_ = m.MarkPaired("c1")

	if err := m.MarkQueued("c1"); errors.CodeOf(err) != errors.NotIdleError {
		t.Fatalf("PAIRED conn enqueue should report NotIdle, got %v", err)
	}
}

func TestRemoveReturnsPhase(t *testing.T) {
	m := newTestManager(t, nil)
	_, _ = m.Register("c1", "", nil)
	_ = m.MarkQueued("c1")

	phase, ok := m.Remove("c1")
	if !ok || phase != PhaseQueued {
		t.Fatalf("remove should return QUEUED, got %v/%v", phase, ok)
	}
	if m.Exists("c1") {
		t.Fatalf("removed conn must be gone")
	}
	// 重复移除：幂等
	if _, ok := m.Remove("c1"); ok {
		t.Fatalf("second remove must report false")
	}
}

func TestPushBackpressure(t *testing.T) {
	m := newTestManager(t, nil)
	w, _ := m.Register("c1", "", nil)

	// SendBuffer=2：塞满后第三条必须快速失败
	if err := m.Push("c1", []byte("1")); err != nil {
		t.Fatalf("push 1 failed: %v", err)
	}
	if err := m.Push("c1", []byte("2")); err != nil {
		t.Fatalf("push 2 failed: %v", err)
	}
	err := m.Push("c1", []byte("3"))
	if errors.CodeOf(err) != errors.DeliveryBackpressureError {
		t.Fatalf("full queue should report DeliveryBackpressure, got %v", err)
	}
	// 消费一条后恢复
	<-w.SendChan
	if err := m.Push("c1", []byte("4")); err != nil {
		t.Fatalf("push after drain failed: %v", err)
	}

	if err := m.Push("nope", nil); errors.CodeOf(err) != errors.NotFoundError {
		t.Fatalf("push to missing conn should report NotFound, got %v", err)
	}
}

// Push 与 Remove 并发：注销时关 SendChan 不许把并发推送方炸掉
func TestPushConcurrentWithRemove(t *testing.T) {
	m := newTestManager(t, nil)

	for round := 0; round < 200; round++ {
		connID := "c" + string(rune('0'+round%10))
		_, _ = m.Register(connID, "", nil)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					// NotFound/Backpressure 都正常，panic 才是事故
					_ = m.Push(connID, []byte("x"))
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Remove(connID)
		}()
		wg.Wait()
	}
}

// 注销后的 Push 报 NotFound，不碰已关闭的发送队列
func TestPushAfterRemove(t *testing.T) {
	m := newTestManager(t, nil)
	_, _ = m.Register("c1", "", nil)
	_, _ = m.Remove("c1")

	if err := m.Push("c1", []byte("x")); errors.CodeOf(err) != errors.NotFoundError {
		t.Fatalf("push after remove should report NotFound, got %v", err)
	}
}

func TestLastPartnerBookkeeping(t *testing.T) {
	m := newTestManager(t, nil)
	_, _ = m.Register("c1", "", nil)

	if got := m.LastPartner("c1"); got != "" {
		t.Fatalf("fresh conn has no last partner, got %q", got)
	}
	m.SetLastPartner("c1", "c2")
	if got := m.LastPartner("c1"); got != "c2" {
		t.Fatalf("want c2, got %q", got)
	}
	// 不存在的连接：no-op / 空值
	m.SetLastPartner("nope", "x")
	if got := m.LastPartner("nope"); got != "" {
		t.Fatalf("missing conn should report empty, got %q", got)
	}
}

func TestSweepEvictsExpiredWithPhase(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	clock := func() time.Time { return cur }

	m := newTestManager(t, clock)
	_, _ = m.Register("c1", "", nil)
	_ = m.MarkQueued("c1")

	var evictedID string
	var evictedPhase Phase
	m.OnEvict(func(connID string, phase Phase) {
		evictedID, evictedPhase = connID, phase
	})

	cur = base.Add(11 * time.Minute) // 超过 IdleTTL=10m
	m.sweepOnce(cur)

	if m.Exists("c1") {
		t.Fatalf("expired conn should be evicted")
	}
	if evictedID != "c1" || evictedPhase != PhaseQueued {
		t.Fatalf("evict callback got %s/%v", evictedID, evictedPhase)
	}
}

func TestRefreshHeartbeatExtendsTTL(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	clock := func() time.Time { return cur }

	m := newTestManager(t, clock)
	_, _ = m.Register("c1", "", nil)

	cur = base.Add(9 * time.Minute)
	if err := m.RefreshHeartbeat("c1"); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	// 原 TTL 已过，但心跳续期后仍存活
	cur = base.Add(15 * time.Minute)
	m.sweepOnce(cur)
	if !m.Exists("c1") {
		t.Fatalf("refreshed conn must survive the sweep")
	}
}
