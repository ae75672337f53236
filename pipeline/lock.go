package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"
)

// ErrBusy 已有入库在进行
var ErrBusy = errors.New("pipeline: another ingestion is running")

// Locker 单飞锁，同一时刻只允许一次入库
type Locker interface {
	// TryLock 获取失败返回 ErrBusy，成功时返回释放函数
	TryLock(ctx context.Context) (func(), error)
}

// LocalLock 进程内锁
type LocalLock struct {
	sem *semaphore.Weighted
}

func NewLocalLock() *LocalLock {
	return &LocalLock{sem: semaphore.NewWeighted(1)}
}

func (l *LocalLock) TryLock(_ context.Context) (func(), error) {
	if !l.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	return func() { l.sem.Release(1) }, nil
}

// releaseScript 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock 跨进程锁，先取进程内锁再取 redis 锁
type RedisLock struct {
	local  *LocalLock
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock ttl 需大于单次入库的最长耗时
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{local: NewLocalLock(), client: client, key: key, ttl: ttl}
}

func (l *RedisLock) TryLock(ctx context.Context) (func(), error) {
	release, err := l.local.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		release()
		return nil, fmt.Errorf("acquire redis lock %s: %w", l.key, err)
	}
	if !ok {
		release()
		return nil, ErrBusy
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
		release()
	}, nil
}
