package invite

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// limiterCacheSize 缓存的签发者数量上限
const limiterCacheSize = 256

// issuerLimiter 按签发者的滑动窗口速率限制
//
// 每个签发者保存窗口内的签发时间戳，任意长度为 window 的区间内至多 n 次。
type issuerLimiter struct {
	n      int
	window time.Duration

	mu    sync.Mutex
	cache *lru.Cache[string, []time.Time]
}

func newIssuerLimiter(n int, window time.Duration) *issuerLimiter {
	// 仅在 size <= 0 时出错
	cache, _ := lru.New[string, []time.Time](limiterCacheSize)
	return &issuerLimiter{n: n, window: window, cache: cache}
}

// Allow 在 now 时刻为 issuer 记录一次签发，超限时返回 false 且不记录
func (l *issuerLimiter) Allow(issuer string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	stamps, _ := l.cache.Get(issuer)
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	stamps = stamps[i:]

	if len(stamps) >= l.n {
		l.cache.Add(issuer, stamps)
		return false
	}
	l.cache.Add(issuer, append(stamps, now))
	return true
}
