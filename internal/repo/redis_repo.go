package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/thongdn34/guess-the-word-name/internal/models"
)

const (
	roomIndexKey      = "rooms:index"
	defaultMaxRetries = 16
)

// RedisRoomRepo はルームの各ドキュメントをRedisに保存します
//
//	rooms:{id}          ルーム（JSON）
//	rooms:{id}:players  playerId -> Player（JSON）のハッシュ
//	rooms:{id}:rounds   roundId -> Round（JSON）のハッシュ
//	rooms:{id}:sessions sessionId -> VotingSession（JSON）のハッシュ
//	rooms:{id}:rev      コミットごとにINCRされるリビジョン
//	rooms:{id}:events   コミット通知用のPub/Subチャネル
type RedisRoomRepo struct {
	rdb        *redis.Client
	ttl        time.Duration
	maxRetries int
}

func NewRedisRoomRepo(rdb *redis.Client, ttlSec, maxRetries int) *RedisRoomRepo {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &RedisRoomRepo{rdb: rdb, ttl: sec(ttlSec), maxRetries: maxRetries}
}

func roomKey(id string) string {
	return fmt.Sprintf("rooms:%s", id)
}
func playersKey(id string) string {
	return fmt.Sprintf("rooms:%s:players", id)
}
func roundsKey(id string) string {
	return fmt.Sprintf("rooms:%s:rounds", id)
}
func sessionsKey(id string) string {
	return fmt.Sprintf("rooms:%s:sessions", id)
}
func revKey(id string) string {
	return fmt.Sprintf("rooms:%s:rev", id)
}
func eventsChannel(id string) string {
	return fmt.Sprintf("rooms:%s:events", id)
}

func roomKeys(id string) []string {
	return []string{roomKey(id), playersKey(id), roundsKey(id), sessionsKey(id), revKey(id)}
}

func sec(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// RunTx はルームの全キーをWATCHした上で fn を実行し、書き込みを MULTI/EXEC でコミットします
// 他のクライアントが先にコミットした場合は fn ごとやり直します
func (rr *RedisRoomRepo) RunTx(ctx context.Context, roomId string, fn func(tx Tx) error) error {
	keys := roomKeys(roomId)
	for attempt := 0; attempt < rr.maxRetries; attempt++ {
		var rev int64
		err := rr.rdb.Watch(ctx, func(rtx *redis.Tx) error {
			t := newRedisTx(ctx, rtx, roomId)
			if err := fn(t); err != nil {
				return err
			}
			if !t.dirty() {
				return nil
			}
			var revCmd *redis.IntCmd
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if err := t.flush(pipe); err != nil {
					return err
				}
				revCmd = pipe.Incr(ctx, revKey(roomId))
				if rr.ttl > 0 {
					for _, k := range keys {
						pipe.Expire(ctx, k, rr.ttl)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			rev = revCmd.Val()
			return nil
		}, keys...)

		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().Str("roomId", roomId).Int("attempt", attempt+1).Msg("transaction conflict, retrying")
			continue
		}
		if err != nil {
			return err
		}
		if rev > 0 {
			rr.publish(ctx, roomId, rev)
		}
		return nil
	}
	return ErrConflict
}

func (rr *RedisRoomRepo) publish(ctx context.Context, roomId string, rev int64) {
	// 通知の失敗はコミット済みの状態に影響しない（購読側は次の通知で最新を読む）
	if err := rr.rdb.Publish(ctx, eventsChannel(roomId), rev).Err(); err != nil {
		log.Warn().Err(err).Str("roomId", roomId).Int64("rev", rev).Msg("failed to publish room event")
	}
}

// Snapshot はルームの全ドキュメントを MULTI/EXEC で一括取得します
// 途中までしか適用されていないトランザクションが見えることはありません
func (rr *RedisRoomRepo) Snapshot(ctx context.Context, roomId string) (models.Snapshot, bool, error) {
	var (
		roomCmd     *redis.StringCmd
		playersCmd  *redis.MapStringStringCmd
		roundsCmd   *redis.MapStringStringCmd
		sessionsCmd *redis.MapStringStringCmd
		revCmd      *redis.StringCmd
	)
	_, err := rr.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		roomCmd = pipe.Get(ctx, roomKey(roomId))
		playersCmd = pipe.HGetAll(ctx, playersKey(roomId))
		roundsCmd = pipe.HGetAll(ctx, roundsKey(roomId))
		sessionsCmd = pipe.HGetAll(ctx, sessionsKey(roomId))
		revCmd = pipe.Get(ctx, revKey(roomId))
		return nil
	})
	if err != nil && err != redis.Nil {
		return models.Snapshot{}, false, err
	}

	b, err := roomCmd.Bytes()
	if err == redis.Nil { // データがない
		return models.Snapshot{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, false, err
	}
	var room models.Room
	if err := json.Unmarshal(b, &room); err != nil {
		return models.Snapshot{}, false, fmt.Errorf("decode room %s: %w", roomId, err)
	}

	players, err := decodeHash[models.Player](playersCmd.Val())
	if err != nil {
		return models.Snapshot{}, false, err
	}
	rounds, err := decodeHash[models.Round](roundsCmd.Val())
	if err != nil {
		return models.Snapshot{}, false, err
	}
	sessions, err := decodeHash[models.VotingSession](sessionsCmd.Val())
	if err != nil {
		return models.Snapshot{}, false, err
	}

	var rev int64
	if s, err := revCmd.Result(); err == nil {
		rev, _ = strconv.ParseInt(s, 10, 64)
	}

	return models.NewSnapshot(rev, room, values(players), values(rounds), values(sessions)), true, nil
}

func values[T any](m map[string]T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func (rr *RedisRoomRepo) ExistsRoom(ctx context.Context, roomId string) (bool, error) {
	n, err := rr.rdb.Exists(ctx, roomKey(roomId)).Result()
	return n == 1, err
}

// ListRooms はインデックスに登録されたルームを作成日時の新しい順に、プレイヤー数付きで返します
// TTLで消えたルームはインデックスからも取り除きます
func (rr *RedisRoomRepo) ListRooms(ctx context.Context) ([]models.RoomSummary, error) {
	ids, err := rr.rdb.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.RoomSummary{}, nil
	}

	roomCmds := make([]*redis.StringCmd, len(ids))
	countCmds := make([]*redis.IntCmd, len(ids))
	_, err = rr.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			roomCmds[i] = pipe.Get(ctx, roomKey(id))
			countCmds[i] = pipe.HLen(ctx, playersKey(id))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, err
	}

	res := make([]models.RoomSummary, 0, len(ids))
	var stale []any
	for i, cmd := range roomCmds {
		b, err := cmd.Bytes()
		if err == redis.Nil {
			stale = append(stale, ids[i])
			continue
		}
		if err != nil {
			return nil, err
		}
		var r models.Room
		if json.Unmarshal(b, &r) != nil {
			continue
		}
		res = append(res, models.RoomSummary{Room: r, PlayerCount: int(countCmds[i].Val())})
	}
	if len(stale) > 0 {
		if err := rr.rdb.SRem(ctx, roomIndexKey, stale...).Err(); err != nil {
			log.Warn().Err(err).Int("count", len(stale)).Msg("failed to prune room index")
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt > res[j].CreatedAt })
	return res, nil
}

func (rr *RedisRoomRepo) TouchRoom(ctx context.Context, roomId string) error {
	// Luaスクリプトでアトミックに処理
	script := `
		local ttl = tonumber(ARGV[1])
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return 0
		end
		for _, key in ipairs(KEYS) do
			redis.call('EXPIRE', key, ttl)
		end
		return 1
	`

	ttl := int(rr.ttl / time.Second)
	if ttl <= 0 {
		return nil
	}
	return rr.rdb.Eval(ctx, script, roomKeys(roomId), ttl).Err()
}

func (rr *RedisRoomRepo) DeleteRoom(ctx context.Context, roomId string) error {
	// Luaスクリプトでアトミックに処理
	script := `
		local index_key = ARGV[1]
		local room_id = ARGV[2]
		local channel = ARGV[3]

		redis.call('DEL', unpack(KEYS))
		redis.call('SREM', index_key, room_id)
		redis.call('PUBLISH', channel, 'deleted')

		return 'OK'
	`

	return rr.rdb.Eval(ctx, script, roomKeys(roomId), roomIndexKey, roomId, eventsChannel(roomId)).Err()
}
