package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/thongdn34/guess-the-word-name/internal/models"
)

// docSet はハッシュ1つに保存されたJSONドキュメント群
// base はWATCH後に読んだ値、pending は未コミットの書き込み（nil は削除）
type docSet[T any] struct {
	key     string
	loaded  bool
	base    map[string]T
	pending map[string]*T
}

func newDocSet[T any](key string) *docSet[T] {
	return &docSet[T]{key: key, pending: make(map[string]*T)}
}

func (d *docSet[T]) load(ctx context.Context, c redis.Cmdable) error {
	if d.loaded {
		return nil
	}
	vals, err := c.HGetAll(ctx, d.key).Result()
	if err != nil {
		return err
	}
	base, err := decodeHash[T](vals)
	if err != nil {
		return fmt.Errorf("decode %s: %w", d.key, err)
	}
	d.base = base
	d.loaded = true
	return nil
}

func (d *docSet[T]) get(ctx context.Context, c redis.Cmdable, id string) (T, bool, error) {
	var zero T
	if p, ok := d.pending[id]; ok {
		if p == nil {
			return zero, false, nil
		}
		return *p, true, nil
	}
	if err := d.load(ctx, c); err != nil {
		return zero, false, err
	}
	v, ok := d.base[id]
	return v, ok, nil
}

func (d *docSet[T]) list(ctx context.Context, c redis.Cmdable) ([]T, error) {
	if err := d.load(ctx, c); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(d.base)+len(d.pending))
	for id, v := range d.base {
		if _, ok := d.pending[id]; ok {
			continue
		}
		out = append(out, v)
	}
	for _, p := range d.pending {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (d *docSet[T]) put(id string, v T) { d.pending[id] = &v }

func (d *docSet[T]) del(id string) { d.pending[id] = nil }

func (d *docSet[T]) dirty() bool { return len(d.pending) > 0 }

func (d *docSet[T]) flush(ctx context.Context, pipe redis.Pipeliner) error {
	for id, p := range d.pending {
		if p == nil {
			pipe.HDel(ctx, d.key, id)
			continue
		}
		b, err := json.Marshal(p)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, d.key, id, b)
	}
	return nil
}

func decodeHash[T any](vals map[string]string) (map[string]T, error) {
	out := make(map[string]T, len(vals))
	for id, raw := range vals {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		out[id] = v
	}
	return out, nil
}

// redisTx は WATCH 中のコネクション上で Tx を実装します
type redisTx struct {
	ctx    context.Context
	c      redis.Cmdable
	roomId string

	roomLoaded  bool
	roomExists  bool
	room        models.Room
	roomPending *models.Room

	players  *docSet[models.Player]
	rounds   *docSet[models.Round]
	sessions *docSet[models.VotingSession]
}

func newRedisTx(ctx context.Context, c redis.Cmdable, roomId string) *redisTx {
	return &redisTx{
		ctx:      ctx,
		c:        c,
		roomId:   roomId,
		players:  newDocSet[models.Player](playersKey(roomId)),
		rounds:   newDocSet[models.Round](roundsKey(roomId)),
		sessions: newDocSet[models.VotingSession](sessionsKey(roomId)),
	}
}

func (t *redisTx) Room() (models.Room, bool, error) {
	if t.roomPending != nil {
		return *t.roomPending, true, nil
	}
	if !t.roomLoaded {
		b, err := t.c.Get(t.ctx, roomKey(t.roomId)).Bytes()
		switch {
		case err == redis.Nil:
			t.roomExists = false
		case err != nil:
			return models.Room{}, false, err
		default:
			if err := json.Unmarshal(b, &t.room); err != nil {
				return models.Room{}, false, fmt.Errorf("decode room %s: %w", t.roomId, err)
			}
			t.roomExists = true
		}
		t.roomLoaded = true
	}
	return t.room, t.roomExists, nil
}

func (t *redisTx) PutRoom(room models.Room) { t.roomPending = &room }

func (t *redisTx) Players() ([]models.Player, error) {
	ps, err := t.players.list(t.ctx, t.c)
	if err != nil {
		return nil, err
	}
	models.SortPlayers(ps)
	return ps, nil
}

func (t *redisTx) Player(playerId string) (models.Player, bool, error) {
	return t.players.get(t.ctx, t.c, playerId)
}

func (t *redisTx) PutPlayer(player models.Player) { t.players.put(player.PlayerId, player) }

func (t *redisTx) DeletePlayer(playerId string) { t.players.del(playerId) }

func (t *redisTx) Rounds() ([]models.Round, error) { return t.rounds.list(t.ctx, t.c) }

func (t *redisTx) Round(roundId string) (models.Round, bool, error) {
	return t.rounds.get(t.ctx, t.c, roundId)
}

func (t *redisTx) PutRound(round models.Round) { t.rounds.put(round.RoundId, round) }

func (t *redisTx) DeleteRound(roundId string) { t.rounds.del(roundId) }

func (t *redisTx) Sessions() ([]models.VotingSession, error) { return t.sessions.list(t.ctx, t.c) }

func (t *redisTx) Session(sessionId string) (models.VotingSession, bool, error) {
	return t.sessions.get(t.ctx, t.c, sessionId)
}

func (t *redisTx) PutSession(session models.VotingSession) {
	t.sessions.put(session.SessionId, session)
}

func (t *redisTx) dirty() bool {
	return t.roomPending != nil || t.players.dirty() || t.rounds.dirty() || t.sessions.dirty()
}

// flush は保留中の書き込みを MULTI パイプラインに積みます
func (t *redisTx) flush(pipe redis.Pipeliner) error {
	if t.roomPending != nil {
		b, err := json.Marshal(t.roomPending)
		if err != nil {
			return err
		}
		pipe.Set(t.ctx, roomKey(t.roomId), b, 0)
		pipe.SAdd(t.ctx, roomIndexKey, t.roomId)
	}
	if err := t.players.flush(t.ctx, pipe); err != nil {
		return err
	}
	if err := t.rounds.flush(t.ctx, pipe); err != nil {
		return err
	}
	return t.sessions.flush(t.ctx, pipe)
}
