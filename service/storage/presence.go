package storage

import (
	"context"
	"time"

	redisc "APChat/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: apchat:presence:<connID>
// value 是 gateway_id，TTL 控制在线有效期；外部读模型只读这里，核心不回读
func presenceKey(connID string) string { return "apchat:presence:" + connID }

// PresenceOnline 标记连接在线并续期；未启用 Redis 时为 no-op
func PresenceOnline(ctx context.Context, connID, gatewayID string, ttl time.Duration) error {
	if !redisc.Enabled() {
		return nil
	}
	return redisc.GetRedis().Set(ctx, presenceKey(connID), gatewayID, ttl).Err()
}

// PresenceOffline 主动下线（删 key）
func PresenceOffline(ctx context.Context, connID string) error {
	if !redisc.Enabled() {
		return nil
	}
	return redisc.GetRedis().Del(ctx, presenceKey(connID)).Err()
}

// PresenceLookup 查询连接是否在线
func PresenceLookup(ctx context.Context, connID string) (gatewayID string, online bool, err error) {
	if !redisc.Enabled() {
		return "", false, nil
	}
	val, err := redisc.GetRedis().Get(ctx, presenceKey(connID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
