package repo

import (
	"context"
	"errors"

	"github.com/thongdn34/guess-the-word-name/internal/models"
)

var (
	// ErrConflict はリトライ上限まで楽観ロックの競合が続いたことを示します
	ErrConflict = errors.New("transaction conflict")
	// ErrRoomExists は同じIDのルームが既に存在することを示します
	ErrRoomExists = errors.New("room already exists")
)

// Tx はルーム単位のトランザクション内で見えるドキュメント群です
// 読み込みは同一トランザクション内の書き込みを反映し、書き込みはコミット時にまとめて適用されます
type Tx interface {
	Room() (models.Room, bool, error)
	PutRoom(room models.Room)

	Players() ([]models.Player, error)
	Player(playerId string) (models.Player, bool, error)
	PutPlayer(player models.Player)
	DeletePlayer(playerId string)

	Rounds() ([]models.Round, error)
	Round(roundId string) (models.Round, bool, error)
	PutRound(round models.Round)
	DeleteRound(roundId string)

	Sessions() ([]models.VotingSession, error)
	Session(sessionId string) (models.VotingSession, bool, error)
	PutSession(session models.VotingSession)
}

// RoomStore はゲーム状態を保持する永続ストアです
type RoomStore interface {
	// RunTx は fn をルーム単位のアトミックなトランザクションとして実行します
	// 競合時は fn 全体が再実行されるため、fn は Tx 以外に副作用を持ってはいけません
	RunTx(ctx context.Context, roomId string, fn func(tx Tx) error) error
	Snapshot(ctx context.Context, roomId string) (models.Snapshot, bool, error)
	Subscribe(ctx context.Context, roomId string) (<-chan models.Snapshot, error)

	ExistsRoom(ctx context.Context, roomId string) (bool, error)
	ListRooms(ctx context.Context) ([]models.RoomSummary, error)
	TouchRoom(ctx context.Context, roomId string) error
	DeleteRoom(ctx context.Context, roomId string) error
}
