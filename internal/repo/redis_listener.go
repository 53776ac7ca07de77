package repo

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/thongdn34/guess-the-word-name/internal/models"
)

// Subscribe はルームのコミット通知を購読し、コミットごとに全体スナップショットを流します
// 購読開始時点のスナップショットを最初に1件送ります
// ルームが削除されるか ctx が終了するとチャネルは閉じられます
func (rr *RedisRoomRepo) Subscribe(ctx context.Context, roomId string) (<-chan models.Snapshot, error) {
	sub := rr.rdb.Subscribe(ctx, eventsChannel(roomId))
	// 購読が確立するまで待つ（ここより後のコミットは取りこぼさない）
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan models.Snapshot, 8)
	go func() {
		defer close(out)
		defer sub.Close()

		var lastRev int64 = -1
		emit := func() bool {
			snap, ok, err := rr.Snapshot(ctx, roomId)
			if err != nil {
				log.Warn().Err(err).Str("roomId", roomId).Msg("failed to load snapshot for listener")
				return ctx.Err() == nil
			}
			if !ok {
				return false
			}
			if snap.Rev == lastRev {
				return true
			}
			lastRev = snap.Rev
			select {
			case out <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				// 通知が溜まっている場合は読み捨てて最新だけを送る
				for drained := false; !drained; {
					select {
					case _, ok := <-ch:
						if !ok {
							return
						}
					default:
						drained = true
					}
				}
				if !emit() {
					return
				}
			}
		}
	}()
	return out, nil
}
