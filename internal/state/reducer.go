// Package state はストアから届くスナップショットを保持し、プレイヤーごとの表示用データに変換します
package state

import (
	"context"
	"sync"

	"github.com/thongdn34/guess-the-word-name/internal/models"
)

// Reducer はルームの最新スナップショットを1つだけ保持します
// Rev が古い、または同じスナップショットは捨てます
type Reducer struct {
	mu  sync.RWMutex
	cur models.Snapshot
	ok  bool
}

// Apply は snap が保持中のものより新しければ置き換えて true を返します
func (r *Reducer) Apply(snap models.Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ok && snap.Rev <= r.cur.Rev {
		return false
	}
	r.cur = snap
	r.ok = true
	return true
}

func (r *Reducer) Current() (models.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur, r.ok
}

// Run は stream が閉じるか ctx が終わるまでスナップショットを適用し、
// 新しい状態になるたびに onChange を呼びます
func (r *Reducer) Run(ctx context.Context, stream <-chan models.Snapshot, onChange func(models.Snapshot)) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-stream:
			if !ok {
				return
			}
			if r.Apply(snap) && onChange != nil {
				onChange(snap)
			}
		}
	}
}
