package refreshlock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked 同一个 refresh token 正在被另一个请求使用
var ErrLocked = errors.New("refresh already in progress")

// 只有持有者才能释放
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker 按 refresh token 串行化刷新请求。key 使用 token 的哈希，不落明文。
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func New(client redis.UniversalClient, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// Acquire 拿到锁后返回 release，调用方必须 defer release()
func (l *Locker) Acquire(ctx context.Context, refreshToken string) (func(), error) {
	key := lockKey(refreshToken)
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire refresh lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	release := func() {
		// 原请求可能已取消，释放用独立的短超时
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, owner).Err()
	}
	return release, nil
}

func lockKey(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return "refresh-lock:" + hex.EncodeToString(sum[:])
}
