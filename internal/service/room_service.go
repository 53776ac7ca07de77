// Package service はビジネスロジックを担当します
// ルームの作成・参加・退出、ラウンド進行、投票の処理を提供します
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/thongdn34/guess-the-word-name/internal/idgen"
	"github.com/thongdn34/guess-the-word-name/internal/models"
	"github.com/thongdn34/guess-the-word-name/internal/repo"
)

// RoomService はルーム管理のビジネスロジックを提供します
type RoomService struct {
	store repo.RoomStore // データ永続化を担当するストア
	idg   IDGenerator    // ルームID生成器
	now   func() int64
}

// IDGenerator はユニークなIDを生成するインターフェース
type IDGenerator interface {
	New() (string, error) // 新しいIDを生成
}

// roomIDGen はIDGeneratorの実装
type roomIDGen struct{}

// New は新しいルームIDを生成します
func (roomIDGen) New() (string, error) { return idgen.NewRoomID() }

// NewRoomIDGenerator は新しいRoomIDGeneratorを作成します
func NewRoomIDGenerator() IDGenerator {
	return roomIDGen{}
}

// NewRoomService は新しいRoomServiceを作成します
func NewRoomService(store repo.RoomStore, idg IDGenerator) *RoomService {
	return &RoomService{store: store, idg: idg, now: models.UnixNow}
}

// CreateRoom は新しいルームを作成し、作成者をホストとして参加させます
// 処理の流れ:
// 1. ユニークなルームIDを生成（重複チェック付き、最大10回リトライ）
// 2. ルームとホストのプレイヤーを1つのトランザクションで保存
// 戻り値: 生成されたルームID、ホストのプレイヤーID、エラー
func (s *RoomService) CreateRoom(ctx context.Context, hostName, roomName string) (string, string, error) {
	const maxRetries = 10 // ID生成の最大リトライ回数

	playerId := idgen.NewPlayerID()
	for i := 0; i < maxRetries; i++ {
		roomId, err := s.idg.New()
		if err != nil {
			return "", "", err
		}

		// IDの重複チェック
		exists, err := s.store.ExistsRoom(ctx, roomId)
		if err != nil {
			return "", "", err
		}
		if exists {
			continue
		}

		now := s.now()
		err = s.store.RunTx(ctx, roomId, func(tx repo.Tx) error {
			// チェック後に同じIDで作られた場合
			if _, ok, err := tx.Room(); err != nil {
				return err
			} else if ok {
				return repo.ErrRoomExists
			}
			tx.PutRoom(models.Room{
				RoomId:    roomId,
				Name:      strings.TrimSpace(roomName),
				HostId:    playerId,
				Status:    models.RoomWaiting,
				CreatedAt: now,
			})
			tx.PutPlayer(models.Player{
				PlayerId:  playerId,
				UserName:  hostName,
				IsHost:    true,
				Connected: true,
				JoinedAt:  now,
			})
			return nil
		})
		if errors.Is(err, repo.ErrRoomExists) {
			continue
		}
		if err != nil {
			return "", "", err
		}
		log.Info().Str("roomId", roomId).Str("playerId", playerId).Msg("room created")
		return roomId, playerId, nil
	}
	return "", "", ErrRoomIDGenerationFailed
}

// JoinRoom はプレイヤーをルームに参加させます
// 切断中の同名プレイヤーがいる場合は新規作成せず、そのプレイヤーとして再接続します
func (s *RoomService) JoinRoom(ctx context.Context, roomId, userName string) (string, error) {
	newId := idgen.NewPlayerID()
	now := s.now()

	var playerId string
	var rejoined bool
	err := s.store.RunTx(ctx, roomId, func(tx repo.Tx) error {
		rejoined = false
		if _, err := loadOpenRoom(tx); err != nil {
			return err
		}
		players, err := tx.Players()
		if err != nil {
			return err
		}
		for _, p := range players {
			if !strings.EqualFold(p.UserName, userName) {
				continue
			}
			if p.Connected {
				return ErrUsernameTaken
			}
			p.Connected = true
			tx.PutPlayer(p)
			playerId = p.PlayerId
			rejoined = true
			return nil
		}

		tx.PutPlayer(models.Player{
			PlayerId:  newId,
			UserName:  userName,
			Connected: true,
			JoinedAt:  now,
		})
		playerId = newId
		return nil
	})
	if err != nil {
		return "", err
	}
	log.Info().Str("roomId", roomId).Str("playerId", playerId).Bool("rejoined", rejoined).Msg("player joined")
	return playerId, nil
}

// SetConnected はプレイヤーの接続状態を更新します（切断はソフトデリート）
// 切断で投票可能な人数が減り、全員の投票が揃った場合はセッションを終了します
func (s *RoomService) SetConnected(ctx context.Context, roomId, playerId string, connected bool) error {
	now := s.now()
	return s.store.RunTx(ctx, roomId, func(tx repo.Tx) error {
		room, err := loadRoom(tx)
		if err != nil {
			return err
		}
		p, ok, err := tx.Player(playerId)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPlayerNotFound
		}
		if p.Connected == connected {
			return nil
		}
		p.Connected = connected
		tx.PutPlayer(p)

		if connected || room.Status == models.RoomFinished {
			return nil
		}
		session, ok, err := activeSession(tx)
		if err != nil || !ok {
			return err
		}
		_, _, err = autoEndIfComplete(tx, room, session, now)
		return err
	})
}

// RemovePlayer はプレイヤーをルームから削除します
// 本人またはホストだけが実行できます
// 削除されたのがホストの場合は、接続中のプレイヤーのうち参加が最も早い人にホストを移譲し、
// 誰もいなければルームを finished にします
func (s *RoomService) RemovePlayer(ctx context.Context, roomId, playerId, requesterId string) error {
	now := s.now()
	var newHost string
	var finished bool
	err := s.store.RunTx(ctx, roomId, func(tx repo.Tx) error {
		newHost, finished = "", false
		room, err := loadRoom(tx)
		if err != nil {
			return err
		}
		if requesterId != playerId && requesterId != room.HostId {
			return ErrNotHost
		}
		p, ok, err := tx.Player(playerId)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPlayerNotFound
		}
		tx.DeletePlayer(playerId)

		if p.IsHost || room.HostId == playerId {
			remaining, err := tx.Players()
			if err != nil {
				return err
			}
			candidates := connectedPlayers(remaining)
			if len(candidates) > 0 {
				next := candidates[0]
				next.IsHost = true
				tx.PutPlayer(next)
				room.HostId = next.PlayerId
				newHost = next.PlayerId
			} else {
				room.HostId = ""
				room.Status = models.RoomFinished
				room.CurrentRoundId = ""
				finished = true
			}
			tx.PutRoom(room)
		}

		if room.Status == models.RoomFinished {
			return nil
		}
		session, ok, err := activeSession(tx)
		if err != nil || !ok {
			return err
		}
		_, _, err = autoEndIfComplete(tx, room, session, now)
		return err
	})
	if err != nil {
		return err
	}
	ev := log.Info().Str("roomId", roomId).Str("playerId", playerId)
	if newHost != "" {
		ev = ev.Str("newHostId", newHost)
	}
	ev.Bool("roomFinished", finished).Msg("player removed")
	return nil
}

// GetState はルームの最新スナップショットを返します
func (s *RoomService) GetState(ctx context.Context, roomId string) (models.Snapshot, error) {
	snap, ok, err := s.store.Snapshot(ctx, roomId)
	if err != nil {
		return models.Snapshot{}, err
	}
	if !ok {
		return models.Snapshot{}, ErrRoomNotFound
	}
	return snap, nil
}

// Watch はルームのスナップショットを購読します
func (s *RoomService) Watch(ctx context.Context, roomId string) (<-chan models.Snapshot, error) {
	exists, err := s.store.ExistsRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRoomNotFound
	}
	return s.store.Subscribe(ctx, roomId)
}

// ListRooms は参加できるルームだけを返します（終了済みとプレイヤーのいないルームは除く）
func (s *RoomService) ListRooms(ctx context.Context) ([]models.RoomSummary, error) {
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	open := make([]models.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		if r.Status == models.RoomFinished || r.PlayerCount == 0 {
			continue
		}
		open = append(open, r)
	}
	return open, nil
}

// Touch はルームのTTL（有効期限）を更新します
func (s *RoomService) Touch(ctx context.Context, roomId string) error {
	exists, err := s.store.ExistsRoom(ctx, roomId)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRoomNotFound
	}
	return s.store.TouchRoom(ctx, roomId)
}

// DeleteRoom はルームを削除します（ホストのみ実行可能）
func (s *RoomService) DeleteRoom(ctx context.Context, roomId, requesterId string) error {
	snap, ok, err := s.store.Snapshot(ctx, roomId)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoomNotFound
	}
	if snap.Room.HostId != requesterId {
		return ErrNotHost
	}
	if err := s.store.DeleteRoom(ctx, roomId); err != nil {
		return err
	}
	log.Info().Str("roomId", roomId).Msg("room deleted")
	return nil
}
