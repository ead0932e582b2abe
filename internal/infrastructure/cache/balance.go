package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/logger"
	"github.com/Mupaky/topreach-sub001/internal/model"

	"github.com/go-redis/redis/v8"
)

// BalanceCache 派生余额的只读缓存。
// 只服务于展示类查询，预占判断永远重新聚合，不读这里。
// 每条缓存带着聚合时 points_guard 的版本号，读取方拿当前版本比对，版本落后的缓存视为未命中
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Entry 一条缓存：余额和聚合前读到的版本号
type Entry struct {
	Balance int64
	Version int64
}

// setScript 只在新值的版本号不低于已有值时写入，晚到的旧聚合结果直接丢弃
var setScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "version")
if current and tonumber(current) > tonumber(ARGV[2]) then
    return 0
end
redis.call("HSET", KEYS[1], "balance", ARGV[1], "version", ARGV[2])
if tonumber(ARGV[3]) > 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return 1
`)

// NewBalanceCache client 为 nil 时所有操作都是空操作
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(userID int64, category model.PointCategory) string {
	return fmt.Sprintf("points:balance:%d:%s", userID, category)
}

// Get 未命中或 Redis 异常时 ok=false，版本比对由调用方完成
func (c *BalanceCache) Get(ctx context.Context, userID int64, category model.PointCategory) (Entry, bool) {
	if c == nil || c.client == nil {
		return Entry{}, false
	}
	vals, err := c.client.HMGet(ctx, balanceKey(userID, category), "balance", "version").Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.FromContext(ctx).Warn("读取余额缓存失败", "error", err)
		}
		return Entry{}, false
	}
	if len(vals) != 2 {
		return Entry{}, false
	}
	balance, ok := parseInt(vals[0])
	if !ok {
		return Entry{}, false
	}
	version, ok := parseInt(vals[1])
	if !ok {
		return Entry{}, false
	}
	return Entry{Balance: balance, Version: version}, true
}

func parseInt(v interface{}) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

// Set version 必须是聚合之前读到的版本号
func (c *BalanceCache) Set(ctx context.Context, userID int64, category model.PointCategory, balance, version int64) {
	if c == nil || c.client == nil {
		return
	}
	key := balanceKey(userID, category)
	err := setScript.Run(ctx, c.client, []string{key}, balance, version, c.ttl.Milliseconds()).Err()
	if err != nil {
		logger.FromContext(ctx).Warn("写入余额缓存失败", "error", err)
	}
}

// Invalidate 余额相关的订单写入提交后调用
func (c *BalanceCache) Invalidate(ctx context.Context, userID int64, categories ...model.PointCategory) {
	if c == nil || c.client == nil || len(categories) == 0 {
		return
	}
	keys := make([]string, 0, len(categories))
	for _, category := range categories {
		keys = append(keys, balanceKey(userID, category))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.FromContext(ctx).Warn("删除余额缓存失败", "error", err, "keys", keys)
	}
}
