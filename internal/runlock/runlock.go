// Package runlock 同一时刻每个任务只允许一次刷新：进程内互斥 + 可选 Redis 跨进程锁
package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrLocked 已有同名任务在运行
var ErrLocked = errors.New("任务正在运行")

const keyPrefix = "streaksync:lock:"

// 只有持有者才能释放
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// 只有持有者才能续期
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

type Locker struct {
	mu     sync.Mutex
	held   map[string]bool
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// New client 为 nil 时只做进程内互斥
func New(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Locker{
		held:   make(map[string]bool),
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// TryLock 非阻塞加锁，成功返回释放函数
func (l *Locker) TryLock(ctx context.Context, name string) (func(), error) {
	l.mu.Lock()
	if l.held[name] {
		l.mu.Unlock()
		return nil, ErrLocked
	}
	l.held[name] = true
	l.mu.Unlock()

	unlockLocal := func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}
	if l.client == nil {
		return unlockLocal, nil
	}

	key := keyPrefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("获取Redis锁失败: %w", err)
	}
	if !ok {
		unlockLocal()
		return nil, ErrLocked
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// 调用方的 ctx 可能已取消，释放锁单独限时
			rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.WithError(err).WithField("key", key).Warn("释放Redis锁失败，将等待过期")
			}
			unlockLocal()
		})
	}, nil
}

// renew 持锁期间每 ttl/3 续期一次，锁被他人持有时停止
func (l *Locker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(max(l.ttl/3, 10*time.Millisecond))
	defer ticker.Stop()
	log := l.logger.WithField("key", key)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		n, err := renewScript.Run(rctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			log.WithError(err).Warn("Redis锁续期失败，稍后重试")
		case n == 0:
			log.Error("Redis锁已丢失，停止续期")
			return
		}
	}
}
