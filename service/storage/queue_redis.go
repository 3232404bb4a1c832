package storage

import (
	"context"
	"strconv"
	"strings"
	"time"

	redisc "APChat/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ===== 键空间 =====
//   apchat:mq:wait          ZSET  member=connID score=enqueueMS（老的在前，同分按字典序）
//   apchat:mq:e:<connID>    HASH  tags / excl / ts

const (
	keyWait        = "apchat:mq:wait"
	keyEntryPrefix = "apchat:mq:e:"
)

func entryKey(connID string) string { return keyEntryPrefix + connID }

// ===== Lua 脚本 =====

// 原子 claim-or-enqueue。
// KEYS[1] = wait zset
// ARGV[1] = self connID
// ARGV[2] = nowMS
// ARGV[3] = fallbackMS
// ARGV[4] = scanLimit
// ARGV[5] = wildcard(0/1)
// ARGV[6] = self tags (csv)
// ARGV[7] = self excl (csv)
// ARGV[8] = entry key prefix
// 返回：{1, partnerID, partnerTS, partnerTags, partnerExcl} 匹配成功；
//       {0} 未匹配，请求方已入队（或保留原条目）。
// 读候选与删候选在同一脚本内完成：不存在"读到再删"的窗口，
// 两个 worker 不可能消费同一条目；Cancel 同样走脚本，天然互斥。
const luaClaim = `
local wait     = KEYS[1]
local selfID   = ARGV[1]
local now      = tonumber(ARGV[2])
local fallback = tonumber(ARGV[3])
local limit    = tonumber(ARGV[4])
local wildcard = tonumber(ARGV[5]) == 1
local prefix   = ARGV[8]

local function split(s)
  local out = {}
  if s == nil or s == "" then return out end
  for w in string.gmatch(s, "([^,]+)") do out[#out+1] = w end
  return out
end
local function has(list, v)
  for _, x in ipairs(list) do
    if x == v then return true end
  end
  return false
end
local function intersects(a, b)
  for _, x in ipairs(a) do
    if has(b, x) then return true end
  end
  return false
end

local tags = split(ARGV[6])
local excl = split(ARGV[7])

local cands = redis.call("ZRANGE", wait, 0, limit - 1, "WITHSCORES")
for i = 1, #cands, 2 do
  local cid = cands[i]
  local cts = tonumber(cands[i+1])
  if cid ~= selfID then
    local ek = prefix .. cid
    if redis.call("EXISTS", ek) == 0 then
      -- 孤儿索引（entry 已过期/被删），顺手清掉
      redis.call("ZREM", wait, cid)
    else
      local e = redis.call("HMGET", ek, "tags", "excl")
      local ctags = split(e[1])
      local cexcl = split(e[2])
      if not has(excl, cid) and not has(cexcl, selfID) then
        local ok = false
        if wildcard then
          ok = true
        elseif #tags == 0 and #ctags == 0 then
          ok = true
        elseif #tags > 0 and #ctags > 0 then
          ok = intersects(tags, ctags)
        elseif #tags == 0 and fallback > 0 and (now - cts) >= fallback then
          ok = true
        end
        if ok then
          redis.call("ZREM", wait, cid)
          redis.call("DEL", ek)
          -- 请求方自己的在队条目（回退重试场景）一并移除
          redis.call("ZREM", wait, selfID)
          redis.call("DEL", prefix .. selfID)
          return {1, cid, tostring(cts), e[1] or "", e[2] or ""}
        end
      end
    end
  end
end

-- 没捞到：入队（已在队里则保留原 enqueue 时间，保证公平排序不被刷新）
local sk = prefix .. selfID
if redis.call("EXISTS", sk) == 0 then
  redis.call("ZADD", wait, now, selfID)
  redis.call("HSET", sk, "tags", ARGV[6], "excl", ARGV[7], "ts", now)
end
return {0}
`

// 放回被 claim 消费却没能成行的条目（保留原 enqueue 时间）。
// KEYS[1] = wait zset
// ARGV[1] = connID
// ARGV[2] = enqueueMS
// ARGV[3] = tags (csv)
// ARGV[4] = excl (csv)
// ARGV[5] = entry key prefix
// 条目已存在则 no-op，与 claim/cancel 同走脚本串行互斥。
const luaRestore = `
local ek = ARGV[5] .. ARGV[1]
if redis.call("EXISTS", ek) == 1 then
  return 0
end
redis.call("ZADD", KEYS[1], tonumber(ARGV[2]), ARGV[1])
redis.call("HSET", ek, "tags", ARGV[3], "excl", ARGV[4], "ts", ARGV[2])
return 1
`

// 原子取消：索引与 entry 一起删，与 claim 串行互斥。
// KEYS[1] = wait zset
// ARGV[1] = connID
// ARGV[2] = entry key
const luaCancel = `
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("DEL", ARGV[2])
return 1
`

// 清理 stale 条目（跨进程兜底：进程崩了没走断连级联时由这里回收）。
// KEYS[1] = wait zset
// ARGV[1] = olderThanMS
// ARGV[2] = entry key prefix
// 返回：被清的 connID 数组
const luaSweep = `
local victims = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, cid in ipairs(victims) do
  redis.call("ZREM", KEYS[1], cid)
  redis.call("DEL", ARGV[2] .. cid)
end
return victims
`

var (
	claimScript   = redis.NewScript(luaClaim)
	restoreScript = redis.NewScript(luaRestore)
	cancelScript  = redis.NewScript(luaCancel)
	sweepScript   = redis.NewScript(luaSweep)
)

// RedisQueue QueueStore 的生产实现
type RedisQueue struct {
	rdb        *redis.Client
	scanLimit  int
	fallbackMS int64
}

func NewRedisQueue(scanLimit int, fallback time.Duration) *RedisQueue {
	return NewRedisQueueWithClient(redisc.GetRedis(), scanLimit, fallback)
}

// NewRedisQueueWithClient 注入 client（单测用）
func NewRedisQueueWithClient(rdb *redis.Client, scanLimit int, fallback time.Duration) *RedisQueue {
	if scanLimit <= 0 {
		scanLimit = 64
	}
	return &RedisQueue{rdb: rdb, scanLimit: scanLimit, fallbackMS: fallback.Milliseconds()}
}

func (q *RedisQueue) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	now := req.NowMS
	if now == 0 {
		now = time.Now().UnixMilli()
	}
	wildcard := "0"
	if req.Wildcard {
		wildcard = "1"
	}
	res, err := claimScript.Run(ctx, q.rdb, []string{keyWait},
		req.ConnID,
		now,
		strconv.FormatInt(q.fallbackMS, 10),
		q.scanLimit,
		wildcard,
		strings.Join(req.Tags, ","),
		strings.Join(req.Exclude, ","),
		keyEntryPrefix,
	).Slice()
	if err != nil {
		return nil, errors.WithMessage(err, "claim script")
	}
	if len(res) == 0 {
		return nil, errors.New("claim script: empty reply")
	}
	matched, _ := res[0].(int64)
	if matched != 1 {
		return &ClaimResult{Matched: false}, nil
	}
	if len(res) < 5 {
		return nil, errors.New("claim script: short reply")
	}
	ts, _ := strconv.ParseInt(asString(res[2]), 10, 64)
	return &ClaimResult{
		Matched: true,
		Partner: &QueueEntry{
			ConnID:    asString(res[1]),
			EnqueueTS: ts,
			Tags:      splitCSV(asString(res[3])),
			Exclude:   splitCSV(asString(res[4])),
		},
	}, nil
}

func (q *RedisQueue) Restore(ctx context.Context, e QueueEntry) error {
	return errors.WithMessage(
		restoreScript.Run(ctx, q.rdb, []string{keyWait},
			e.ConnID,
			e.EnqueueTS,
			strings.Join(e.Tags, ","),
			strings.Join(e.Exclude, ","),
			keyEntryPrefix,
		).Err(),
		"restore script")
}

func (q *RedisQueue) Cancel(ctx context.Context, connID string) error {
	return errors.WithMessage(
		cancelScript.Run(ctx, q.rdb, []string{keyWait}, connID, entryKey(connID)).Err(),
		"cancel script")
}

func (q *RedisQueue) SweepStale(ctx context.Context, olderThanMS int64) ([]string, error) {
	res, err := sweepScript.Run(ctx, q.rdb, []string{keyWait},
		olderThanMS, keyEntryPrefix).StringSlice()
	if err != nil {
		return nil, errors.WithMessage(err, "sweep script")
	}
	return res, nil
}

func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, keyWait).Result()
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
