package words

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thongdn34/guess-the-word-name/internal/models"
	"golang.org/x/time/rate"
)

// Limited はルームごとにお題の取得回数を制限します
// 上限を超えた呼び出しは ErrSourceUnavailable になります
type Limited struct {
	next  Source
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*roomLimiter
}

type roomLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// idleAfter を過ぎて使われていないルームのリミッターは破棄する
const idleAfter = 30 * time.Minute

// NewLimited は perMinute 回/分（バースト同数）に制限します。perMinute <= 0 は無制限
func NewLimited(next Source, perMinute int) *Limited {
	l := &Limited{next: next, limiters: make(map[string]*roomLimiter)}
	if perMinute <= 0 {
		l.limit = rate.Inf
		l.burst = 1
	} else {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
		l.burst = perMinute
	}
	return l
}

func (l *Limited) Name() string { return l.next.Name() }

func (l *Limited) GeneratePair(ctx context.Context, roomId string) (models.WordPair, error) {
	if !l.limiter(roomId).Allow() {
		return models.WordPair{}, fmt.Errorf("%w: room %s exceeded word budget", ErrSourceUnavailable, roomId)
	}
	return l.next.GeneratePair(ctx, roomId)
}

func (l *Limited) limiter(roomId string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for id, rl := range l.limiters {
		if now.Sub(rl.lastSeen) > idleAfter {
			delete(l.limiters, id)
		}
	}
	rl, ok := l.limiters[roomId]
	if !ok {
		rl = &roomLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[roomId] = rl
	}
	rl.lastSeen = now
	return rl.lim
}
