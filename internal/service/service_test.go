package service

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/thongdn34/guess-the-word-name/internal/models"
	"github.com/thongdn34/guess-the-word-name/internal/repo"
	"github.com/thongdn34/guess-the-word-name/internal/words"
)

// clock は呼ばれるたびに1ミリ秒進む時計（参加順を決定的にする）
type clock struct {
	mu sync.Mutex
	t  int64
}

func (c *clock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t++
	return c.t
}

type fixture struct {
	store  *repo.RedisRoomRepo
	mr     *miniredis.Miniredis
	rooms  *RoomService
	rounds *RoundManager
	votes  *VotingEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := repo.NewRedisRoomRepo(rdb, 3600, 64)
	clk := &clock{t: 1_700_000_000_000}
	src := words.NewStatic("test", models.WordPair{WordA: "Heo", WordB: "Lợn"})

	f := &fixture{
		store:  store,
		mr:     mr,
		rooms:  NewRoomService(store, NewRoomIDGenerator()),
		rounds: NewRoundManager(store, src, DefaultPointValue),
		votes:  NewVotingEngine(store),
	}
	f.rooms.now = clk.now
	f.rounds.now = clk.now
	f.rounds.pick = func(int) int { return 0 }
	f.votes.now = clk.now
	return f
}

// setupRoom は names[0] をホストとしてルームを作り、残りを参加させます
func (f *fixture) setupRoom(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	roomId, hostId, err := f.rooms.CreateRoom(ctx, names[0], "test room")
	require.NoError(t, err)
	ids := []string{hostId}
	for _, n := range names[1:] {
		id, err := f.rooms.JoinRoom(ctx, roomId, n)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return roomId, ids
}

// startRound は接続中プレイヤーの impostor 番目をインポスターにしてラウンドを開始します
func (f *fixture) startRound(t *testing.T, roomId, hostId string, impostor int) models.Round {
	t.Helper()
	ctx := context.Background()
	f.rounds.pick = func(int) int { return impostor }
	r, err := f.rounds.CreateRound(ctx, roomId, hostId, nil)
	require.NoError(t, err)
	started, err := f.rounds.StartRound(ctx, roomId, r.RoundId, hostId)
	require.NoError(t, err)
	return started
}

func (f *fixture) state(t *testing.T, roomId string) models.Snapshot {
	t.Helper()
	snap, err := f.rooms.GetState(context.Background(), roomId)
	require.NoError(t, err)
	return snap
}

func playerById(t *testing.T, snap models.Snapshot, id string) models.Player {
	t.Helper()
	for _, p := range snap.Players {
		if p.PlayerId == id {
			return p
		}
	}
	t.Fatalf("player %s not in snapshot", id)
	return models.Player{}
}
