package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/model"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 加锁：SET key value NX PX timeout
// 释放：Lua 脚本比较 value 后再 DEL，避免删掉别人的锁
//
// 预占点数时它只是咨询锁：用来削减同一 (用户, 类别) 的并发争抢，
// 锁过期或 Redis 不可用都不影响正确性，真正的串行化由 points_guard 行锁保证
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 锁持有者标识
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞获取
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 带重试的获取
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 只释放自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// NewReserveLock 按 (用户, 类别) 加锁，value 使用 requestID 便于追踪持有者
func NewReserveLock(client *redis.Client, userID int64, category model.PointCategory, requestID string) *DistributedLock {
	key := fmt.Sprintf("points:reserve:lock:%d:%s", userID, category)
	return NewDistributedLock(client, key, requestID, 10*time.Second)
}
