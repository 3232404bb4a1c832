package storage

import "context"

// QueueEntry 等待配对的一条队列记录
type QueueEntry struct {
	ConnID    string
	Tags      []string
	Exclude   []string
	EnqueueTS int64 // unix 毫秒
}

// ClaimRequest 一次原子 claim-or-enqueue 请求
type ClaimRequest struct {
	ConnID  string
	Tags    []string
	Exclude []string
	// Wildcard 回退匹配：请求方等待超窗后忽略自身标签
	Wildcard bool
	NowMS    int64
}

// ClaimResult Matched=true 时 Partner 已被原子移出队列；
// 否则请求方已入队（或本来就在队里，保留原 enqueue 时间）
type ClaimResult struct {
	Matched bool
	Partner *QueueEntry
}

// QueueStore 配对队列的协调存储抽象。
// 生产实现是 Redis（脚本原子执行，跨进程安全）；
// 内存实现（queue_mem.go）用于单测与单进程部署。
//
// 约定：
//   - Claim 的"选中+移除"必须不可分割，同一条目至多被一次成功匹配消费；
//   - Cancel 与进行中的 Claim 互斥（同一原语串行化）；
//   - 候选顺序：enqueue 时间最老优先，同时间按 connID 字典序。
type QueueStore interface {
	Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error)
	Cancel(ctx context.Context, connID string) error
	// Restore 把被 Claim 消费却没能成行的条目放回（保留原 enqueue 时间，
	// 排队资历不清零）；条目已存在时 no-op
	Restore(ctx context.Context, e QueueEntry) error
	// SweepStale 清掉 enqueue 早于 olderThanMS 的条目，返回被清的 connID
	SweepStale(ctx context.Context, olderThanMS int64) ([]string, error)
	Size(ctx context.Context) (int64, error)
}

// 标签兼容规则（两侧入队条目之间）：
//   - 双方都无标签 -> 兼容（"任意话题"）
//   - 双方都有标签且交集非空 -> 兼容
//   - 请求方回退（Wildcard）-> 与任何人兼容
//   - 请求方无标签且候选已等待超过回退窗口 -> 兼容
// 互斥名单双向检查：任一方把对方列入 Exclude 即不兼容。
func Compatible(reqTags, candTags []string, wildcard bool, candWaitedMS, fallbackMS int64) bool {
	if wildcard {
		return true
	}
	if len(reqTags) == 0 && len(candTags) == 0 {
		return true
	}
	if len(reqTags) > 0 && len(candTags) > 0 {
		for _, t := range reqTags {
			for _, c := range candTags {
				if t == c {
					return true
				}
			}
		}
		return false
	}
	// 请求方无标签、候选有标签：候选超窗后可回退
	if len(reqTags) == 0 && fallbackMS > 0 && candWaitedMS >= fallbackMS {
		return true
	}
	return false
}

func containsID(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
