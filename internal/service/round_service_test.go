package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thongdn34/guess-the-word-name/internal/models"
	"github.com/thongdn34/guess-the-word-name/internal/words"
)

func TestCreateRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomId, ids := f.setupRoom(t, "alice", "bob")

	r1, err := f.rounds.CreateRound(ctx, roomId, ids[0], nil)
	require.NoError(t, err)
	assert.Equal(t, 1, r1.RoundNumber)
	assert.Equal(t, models.PendingImporter, r1.ImporterId)
	assert.Equal(t, "test", r1.GeneratedBy)
	assert.Equal(t, "Heo", r1.WordA)

	snap := f.state(t, roomId)
	assert.Equal(t, r1.RoundId, snap.Room.CurrentRoundId)
	assert.Equal(t, models.RoomWaiting, snap.Room.Status)

	// 未開始のラウンドは置き換えられる
	r2, err := f.rounds.CreateRound(ctx, roomId, ids[0], &models.WordPair{WordA: " Ngô ", WordB: "Bắp"})
	require.NoError(t, err)
	assert.Equal(t, 1, r2.RoundNumber)
	assert.Equal(t, words.SourceManual, r2.GeneratedBy)
	assert.Equal(t, "Ngô", r2.WordA)

	snap = f.state(t, roomId)
	require.Len(t, snap.Rounds, 1)
	assert.Equal(t, r2.RoundId, snap.Rounds[0].RoundId)

	_, err = f.rounds.StartRound(ctx, roomId, r2.RoundId, ids[0])
	require.NoError(t, err)
	_, err = f.rounds.CreateRound(ctx, roomId, ids[0], nil)
	assert.ErrorIs(t, err, ErrRoundInProgress)

	_, err = f.rounds.MarkWinners(ctx, roomId, r2.RoundId, ids[0], []string{ids[1]}, 0)
	require.NoError(t, err)
	r3, err := f.rounds.CreateRound(ctx, roomId, ids[0], nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r3.RoundNumber)
}

func TestCreateRound_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomId, ids := f.setupRoom(t, "alice", "bob")

	_, err := f.rounds.CreateRound(ctx, roomId, ids[1], nil)
	assert.ErrorIs(t, err, ErrNotHost)

	_, err = f.rounds.CreateRound(ctx, roomId, ids[0], &models.WordPair{WordA: "Ngô"})
	assert.ErrorIs(t, err, ErrInvalidWords)

	f.rounds.words = words.NewStatic("empty")
	_, err = f.rounds.CreateRound(ctx, roomId, ids[0], nil)
	assert.ErrorIs(t, err, ErrNoWordsAvailable)
	assert.Equal(t, KindUnavailable, KindOf(err))

	f.rounds.words = words.NewFallback(words.NewStatic("empty"), words.DefaultPairs)
	r, err := f.rounds.CreateRound(ctx, roomId, ids[0], nil)
	require.NoError(t, err)
	assert.Equal(t, words.SourceDefault, r.GeneratedBy)

	_, err = f.rounds.CreateRound(ctx, "missing", ids[0], nil)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestStartRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomId, ids := f.setupRoom(t, "alice", "bob", "carol")

	f.rounds.pick = func(n int) int {
		assert.Equal(t, 2, n, "only connected players are candidates")
		return 1
	}
	require.NoError(t, f.rooms.SetConnected(ctx, roomId, ids[1], false))
	r, err := f.rounds.CreateRound(ctx, roomId, ids[0], nil)
	require.NoError(t, err)

	_, err = f.rounds.StartRound(ctx, roomId, r.RoundId, ids[1])
	assert.ErrorIs(t, err, ErrNotHost)

	started, err := f.rounds.StartRound(ctx, roomId, r.RoundId, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids[2], started.ImporterId)
	assert.NotZero(t, started.StartedAt)

	snap := f.state(t, roomId)
	assert.Equal(t, models.RoomInRound, snap.Room.Status)
	require.NotNil(t, snap.CurrentRound)
	assert.True(t, snap.CurrentRound.IsLive())

	_, err = f.rounds.StartRound(ctx, roomId, r.RoundId, ids[0])
	assert.ErrorIs(t, err, ErrRoundNotPending)
	_, err = f.rounds.StartRound(ctx, roomId, "nope", ids[0])
	assert.ErrorIs(t, err, ErrRoundNotFound)
}

func TestStartRound_InsufficientPlayers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomId, ids := f.setupRoom(t, "alice", "bob")
	require.NoError(t, f.rooms.SetConnected(ctx, roomId, ids[1], false))

	r, err := f.rounds.CreateRound(ctx, roomId, ids[0], nil)
	require.NoError(t, err)
	_, err = f.rounds.StartRound(ctx, roomId, r.RoundId, ids[0])
	assert.ErrorIs(t, err, ErrInsufficientPlayers)

	snap := f.state(t, roomId)
	assert.Equal(t, models.RoomWaiting, snap.Room.Status)
	assert.True(t, snap.CurrentRound.IsPending())
}

func TestMarkWinners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomId, ids := f.setupRoom(t, "alice", "bob", "carol")

	r, err := f.rounds.CreateRound(ctx, roomId, ids[0], nil)
	require.NoError(t, err)
	_, err = f.rounds.MarkWinners(ctx, roomId, r.RoundId, ids[0], []string{ids[1]}, 0)
	assert.ErrorIs(t, err, ErrRoundNotStarted)

	_, err = f.rounds.StartRound(ctx, roomId, r.RoundId, ids[0])
	require.NoError(t, err)

	_, err = f.rounds.MarkWinners(ctx, roomId, r.RoundId, ids[0], nil, 0)
	assert.ErrorIs(t, err, ErrNoWinners)
	_, err = f.rounds.MarkWinners(ctx, roomId, r.RoundId, ids[0], []string{"ghost"}, 0)
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	marked, err := f.rounds.MarkWinners(ctx, roomId, r.RoundId, ids[0], []string{ids[1], ids[2], ids[1]}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1], ids[2]}, marked.WinnerIds)
	assert.Equal(t, ids[0], marked.WinnerMarkedBy)
	assert.NotZero(t, marked.EndedAt)

	_, err = f.rounds.MarkWinners(ctx, roomId, r.RoundId, ids[0], []string{ids[1]}, 0)
	assert.ErrorIs(t, err, ErrRoundResolved)

	snap := f.state(t, roomId)
	assert.Equal(t, 0, playerById(t, snap, ids[0]).Score)
	assert.Equal(t, 50, playerById(t, snap, ids[1]).Score, "scored exactly once")
	assert.Equal(t, 50, playerById(t, snap, ids[2]).Score)
	assert.Equal(t, models.RoomWaiting, snap.Room.Status)
	assert.Empty(t, snap.Room.CurrentRoundId)
}

func TestMarkWinners_CustomPointsAndActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomId, ids := f.setupRoom(t, "alice", "bob")
	r := f.startRound(t, roomId, ids[0], 1)

	_, err := f.votes.StartVotingSession(ctx, roomId, ids[0])
	require.NoError(t, err)
	_, err = f.rounds.MarkWinners(ctx, roomId, r.RoundId, ids[0], []string{ids[1]}, 0)
	assert.ErrorIs(t, err, ErrSessionActive)

	snap := f.state(t, roomId)
	_, err = f.votes.EndVotingSession(ctx, roomId, snap.VotingSession.SessionId, ids[0])
	require.NoError(t, err)

	_, err = f.rounds.MarkWinners(ctx, roomId, r.RoundId, ids[0], []string{ids[1]}, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, playerById(t, f.state(t, roomId), ids[1]).Score)
}

func TestMarkWinners_ConcurrentCallsScoreOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomId, ids := f.setupRoom(t, "alice", "bob")
	r := f.startRound(t, roomId, ids[0], 1)

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.rounds.MarkWinners(ctx, roomId, r.RoundId, ids[0], []string{ids[1]}, 0)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrRoundResolved)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 50, playerById(t, f.state(t, roomId), ids[1]).Score)
}
