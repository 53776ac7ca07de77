package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thongdn34/guess-the-word-name/internal/idgen"
	"github.com/thongdn34/guess-the-word-name/internal/models"
	"github.com/thongdn34/guess-the-word-name/internal/repo"
)

// VotingEngine は告発フェーズ（投票の開始・投票・集計）を担当します
type VotingEngine struct {
	store repo.RoomStore
	now   func() int64
}

func NewVotingEngine(store repo.RoomStore) *VotingEngine {
	return &VotingEngine{store: store, now: models.UnixNow}
}

// StartVotingSession は現在のラウンドで投票セッションを開始します
func (e *VotingEngine) StartVotingSession(ctx context.Context, roomId, requesterId string) (models.VotingSession, error) {
	session := models.VotingSession{
		SessionId: idgen.NewULID(),
		Status:    models.SessionActive,
		Votes:     []models.Vote{},
		StartedAt: e.now(),
	}
	err := e.store.RunTx(ctx, roomId, func(tx repo.Tx) error {
		room, err := loadHostRoom(tx, requesterId)
		if err != nil {
			return err
		}
		if room.CurrentRoundId == "" {
			return ErrNoCurrentRound
		}
		round, ok, err := tx.Round(room.CurrentRoundId)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRoundNotFound
		}
		if !round.IsStarted() {
			return ErrRoundNotStarted
		}
		if round.IsResolved() {
			return ErrRoundResolved
		}
		if _, active, err := activeSession(tx); err != nil {
			return err
		} else if active {
			return ErrSessionActive
		}
		players, err := tx.Players()
		if err != nil {
			return err
		}
		if len(connectedPlayers(players)) < 2 {
			return ErrInsufficientPlayers
		}

		session.RoundId = round.RoundId
		tx.PutSession(session)
		return nil
	})
	if err != nil {
		return models.VotingSession{}, err
	}
	log.Info().Str("roomId", roomId).Str("roundId", session.RoundId).Str("sessionId", session.SessionId).Msg("voting session started")
	return session, nil
}

// CastVote は投票を1件追加します。同じセッションでは最初の1票だけが有効です
// 投票数が投票可能な人数に達すると、同じトランザクション内でセッションを終了します
func (e *VotingEngine) CastVote(ctx context.Context, roomId, sessionId, voterId, votedForId string) (models.VotingSession, error) {
	now := e.now()
	var result models.VotingSession
	var ended bool
	err := e.store.RunTx(ctx, roomId, func(tx repo.Tx) error {
		room, err := loadOpenRoom(tx)
		if err != nil {
			return err
		}
		session, ok, err := tx.Session(sessionId)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSessionNotFound
		}
		if session.Status != models.SessionActive {
			return ErrSessionNotActive
		}

		voter, ok, err := tx.Player(voterId)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPlayerNotFound
		}
		if session.HasVoted(voterId) {
			return ErrDuplicateVote
		}
		if voter.Disabled {
			return ErrVoterDisabled
		}
		if !voter.Connected {
			return ErrVoterDisconnected
		}
		if voterId == votedForId {
			return ErrSelfVote
		}
		target, ok, err := tx.Player(votedForId)
		if err != nil {
			return err
		}
		if !ok || target.Disabled {
			return ErrInvalidTarget
		}

		session.Votes = append(append([]models.Vote(nil), session.Votes...), models.Vote{
			VoterId:    voterId,
			VotedForId: votedForId,
			CreatedAt:  now,
		})
		tx.PutSession(session)

		result, ended, err = autoEndIfComplete(tx, room, session, now)
		return err
	})
	if err != nil {
		return models.VotingSession{}, err
	}
	log.Info().Str("roomId", roomId).Str("sessionId", sessionId).Str("voterId", voterId).Msg("vote cast")
	if ended {
		logResolution(log.Info(), roomId, result)
	}
	return result, nil
}

// EndVotingSession はホストの操作で投票を締め切り、集計結果を反映します
func (e *VotingEngine) EndVotingSession(ctx context.Context, roomId, sessionId, requesterId string) (models.VotingSession, error) {
	now := e.now()
	var result models.VotingSession
	err := e.store.RunTx(ctx, roomId, func(tx repo.Tx) error {
		room, err := loadHostRoom(tx, requesterId)
		if err != nil {
			return err
		}
		session, ok, err := tx.Session(sessionId)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSessionNotFound
		}
		if session.Status != models.SessionActive {
			return ErrSessionNotActive
		}
		result, err = resolveSession(tx, room, session, now)
		return err
	})
	if err != nil {
		return models.VotingSession{}, err
	}
	logResolution(log.Info(), roomId, result)
	return result, nil
}

// StartNewRound は次のラウンドに向けてルームを waiting に戻し、全員の無効化を解除します
// 未開始のラウンドが残っていれば破棄します
func (e *VotingEngine) StartNewRound(ctx context.Context, roomId, requesterId string) error {
	err := e.store.RunTx(ctx, roomId, func(tx repo.Tx) error {
		room, err := loadHostRoom(tx, requesterId)
		if err != nil {
			return err
		}
		if _, active, err := activeSession(tx); err != nil {
			return err
		} else if active {
			return ErrSessionActive
		}
		if room.CurrentRoundId != "" {
			cur, ok, err := tx.Round(room.CurrentRoundId)
			if err != nil {
				return err
			}
			if ok && cur.IsLive() {
				return ErrRoundInProgress
			}
			if ok && !cur.IsStarted() {
				tx.DeleteRound(cur.RoundId)
			}
		}

		players, err := tx.Players()
		if err != nil {
			return err
		}
		for _, p := range players {
			if p.Disabled {
				p.Disabled = false
				tx.PutPlayer(p)
			}
		}
		room.Status = models.RoomWaiting
		room.CurrentRoundId = ""
		tx.PutRoom(room)
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("roomId", roomId).Msg("room reset for a new round")
	return nil
}

func logResolution(ev *zerolog.Event, roomId string, s models.VotingSession) {
	ev.Str("roomId", roomId).
		Str("sessionId", s.SessionId).
		Str("roundId", s.RoundId).
		Bool("isTie", s.IsTie).
		Bool("isImpostor", s.IsImpostor).
		Str("winnerId", s.WinnerId).
		Msg("voting session resolved")
}
