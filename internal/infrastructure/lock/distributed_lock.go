package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么需要分布式锁？】
//
// 两个使用场景：
//
// 1. 结算 worker 单实例约束：账本追加要求同一账户串行写，整个消费端
//    被压到并发=1。部署多副本时靠 worker 锁保证同一时刻只有一个实例
//    在消费，其余实例等待接管
//
// 2. 退款串行：同一充值单的两次退款请求不允许并发执行，
//    否则累计退款额的读算写会互相覆盖
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证"检查+删除"的原子性
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
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
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Renew 续期
// worker 这类长期持锁方必须周期续期，避免锁过期后出现双实例
func (l *DistributedLock) Renew(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
	result, err := l.client.Eval(ctx, script,
		[]string{l.key}, l.value, l.expiration.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockExpired
	}
	return nil
}

// Unlock 释放锁
//
// 【关键点】先检查 value 是自己的再删除，整个动作用 Lua 保证原子，
// 否则自己超时后会误删下一个持有者的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 便捷函数
// ============================================================================

// NewWorkerLock 结算 worker 单实例锁
// value 用实例标识，便于排查是哪台机器持有
func NewWorkerLock(client *redis.Client, instanceID string) *DistributedLock {
	return NewDistributedLock(client, "settlement:worker:lock", instanceID, 30*time.Second)
}

// NewRefundLock 退款锁（按充值单维度）
func NewRefundLock(client *redis.Client, tradeNo, holder string) *DistributedLock {
	key := fmt.Sprintf("refund:lock:order:%s", tradeNo)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}
