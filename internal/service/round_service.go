package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/thongdn34/guess-the-word-name/internal/idgen"
	"github.com/thongdn34/guess-the-word-name/internal/models"
	"github.com/thongdn34/guess-the-word-name/internal/repo"
	"github.com/thongdn34/guess-the-word-name/internal/words"
)

const DefaultPointValue = 50

// RoundManager はラウンドの作成・開始・勝者確定を担当します
type RoundManager struct {
	store      repo.RoomStore
	words      words.Source
	pointValue int
	now        func() int64
	pick       func(n int) int // インポスターの選択
}

func NewRoundManager(store repo.RoomStore, src words.Source, pointValue int) *RoundManager {
	if pointValue <= 0 {
		pointValue = DefaultPointValue
	}
	return &RoundManager{store: store, words: src, pointValue: pointValue, now: models.UnixNow, pick: rand.Intn}
}

// CreateRound はお題を取得して新しいラウンドを作成し、ルームの現在のラウンドにします
// manual が指定された場合はワードソースを使いません
// 未開始のラウンドがあればそれを置き換え、進行中のラウンドがあれば ErrRoundInProgress
func (m *RoundManager) CreateRound(ctx context.Context, roomId, requesterId string, manual *models.WordPair) (models.Round, error) {
	// お題の取得はやり直しの対象外なのでトランザクションの前に行う
	// 取得回数を無駄にしないよう、明らかに失敗するコマンドは先に弾く
	snap, ok, err := m.store.Snapshot(ctx, roomId)
	if err != nil {
		return models.Round{}, err
	}
	if !ok {
		return models.Round{}, ErrRoomNotFound
	}
	if snap.Room.Status == models.RoomFinished {
		return models.Round{}, ErrRoomFinished
	}
	if snap.Room.HostId != requesterId {
		return models.Round{}, ErrNotHost
	}
	if snap.CurrentRound != nil && snap.CurrentRound.IsLive() {
		return models.Round{}, ErrRoundInProgress
	}

	pair, err := m.wordPair(ctx, roomId, manual)
	if err != nil {
		return models.Round{}, err
	}

	round := models.Round{
		RoundId:     idgen.NewULID(),
		ImporterId:  models.PendingImporter,
		WordA:       pair.WordA,
		WordB:       pair.WordB,
		GeneratedBy: pair.Source,
		CreatedAt:   m.now(),
	}
	var superseded string
	err = m.store.RunTx(ctx, roomId, func(tx repo.Tx) error {
		superseded = ""
		room, err := loadHostRoom(tx, requesterId)
		if err != nil {
			return err
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
				superseded = cur.RoundId
			}
		}

		rounds, err := tx.Rounds()
		if err != nil {
			return err
		}
		round.RoundNumber = 1
		for _, r := range rounds {
			if r.RoundNumber >= round.RoundNumber {
				round.RoundNumber = r.RoundNumber + 1
			}
		}
		tx.PutRound(round)

		room.CurrentRoundId = round.RoundId
		room.Status = models.RoomWaiting
		tx.PutRoom(room)
		return nil
	})
	if err != nil {
		return models.Round{}, err
	}
	ev := log.Info().Str("roomId", roomId).Str("roundId", round.RoundId).Int("roundNumber", round.RoundNumber).Str("generatedBy", round.GeneratedBy)
	if superseded != "" {
		ev = ev.Str("supersededRoundId", superseded)
	}
	ev.Msg("round created")
	return round, nil
}

func (m *RoundManager) wordPair(ctx context.Context, roomId string, manual *models.WordPair) (models.WordPair, error) {
	if manual != nil {
		p, err := words.Manual(strings.TrimSpace(manual.WordA), strings.TrimSpace(manual.WordB)).GeneratePair(ctx, roomId)
		if err != nil {
			return models.WordPair{}, ErrInvalidWords
		}
		return p, nil
	}
	if m.words == nil {
		return models.WordPair{}, ErrNoWordsAvailable
	}
	p, err := m.words.GeneratePair(ctx, roomId)
	if err != nil {
		return models.WordPair{}, fmt.Errorf("%w: %w", ErrNoWordsAvailable, err)
	}
	if !p.Valid() {
		return models.WordPair{}, ErrNoWordsAvailable
	}
	if p.Source == "" {
		p.Source = m.words.Name()
	}
	return p, nil
}

// StartRound は接続中のプレイヤーからインポスターを無作為に選び、ラウンドを開始します
// 前のラウンドで無効化されたプレイヤーはここで全員復帰します
func (m *RoundManager) StartRound(ctx context.Context, roomId, roundId, requesterId string) (models.Round, error) {
	now := m.now()
	var started models.Round
	err := m.store.RunTx(ctx, roomId, func(tx repo.Tx) error {
		room, err := loadHostRoom(tx, requesterId)
		if err != nil {
			return err
		}
		round, ok, err := tx.Round(roundId)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRoundNotFound
		}
		if room.CurrentRoundId != roundId {
			return ErrNotCurrentRound
		}
		if !round.IsPending() || round.IsStarted() {
			return ErrRoundNotPending
		}

		players, err := tx.Players()
		if err != nil {
			return err
		}
		connected := connectedPlayers(players)
		if len(connected) < 2 {
			return ErrInsufficientPlayers
		}
		round.ImporterId = connected[m.pick(len(connected))].PlayerId
		round.StartedAt = now
		tx.PutRound(round)

		for _, p := range players {
			if p.Disabled {
				p.Disabled = false
				tx.PutPlayer(p)
			}
		}
		room.Status = models.RoomInRound
		tx.PutRoom(room)
		started = round
		return nil
	})
	if err != nil {
		return models.Round{}, err
	}
	log.Info().Str("roomId", roomId).Str("roundId", roundId).Msg("round started")
	return started, nil
}

// MarkWinners は勝者に pointValue ずつ加点し、ラウンドを確定させます
// スコアの読み込みとラウンドの書き込みは1つのトランザクションで行います
// points <= 0 の場合は既定の加点を使います
func (m *RoundManager) MarkWinners(ctx context.Context, roomId, roundId, requesterId string, winnerIds []string, points int) (models.Round, error) {
	ids := dedupe(winnerIds)
	if len(ids) == 0 {
		return models.Round{}, ErrNoWinners
	}
	if points <= 0 {
		points = m.pointValue
	}

	now := m.now()
	var marked models.Round
	err := m.store.RunTx(ctx, roomId, func(tx repo.Tx) error {
		room, err := loadHostRoom(tx, requesterId)
		if err != nil {
			return err
		}
		round, ok, err := tx.Round(roundId)
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

		winners := make([]models.Player, 0, len(ids))
		for _, id := range ids {
			p, ok, err := tx.Player(id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
			}
			winners = append(winners, p)
		}
		for _, p := range winners {
			p.Score += points
			tx.PutPlayer(p)
		}

		round.EndedAt = now
		round.WinnerIds = ids
		round.WinnerMarkedBy = requesterId
		tx.PutRound(round)

		room.Status = models.RoomWaiting
		room.CurrentRoundId = ""
		tx.PutRoom(room)
		marked = round
		return nil
	})
	if err != nil {
		return models.Round{}, err
	}
	log.Info().Str("roomId", roomId).Str("roundId", roundId).Strs("winnerIds", ids).Int("points", points).Msg("winners marked")
	return marked, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
