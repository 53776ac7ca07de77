// Package models はアプリケーションで使用するデータ構造を定義します
package models

import "time"

// RoomStatus はルームのライフサイクル状態
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomInRound  RoomStatus = "in_round"
	RoomFinished RoomStatus = "finished"
)

// SessionStatus は投票セッションの状態
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

const (
	// PendingImporter はインポスター未割り当てのラウンドを示す
	PendingImporter = "pending"
	// VotingSystem は投票でラウンドが終了したときの winnerMarkedBy
	VotingSystem = "voting_system"
)

// Room はゲームセッション1つ分のルーム情報を表します
type Room struct {
	RoomId         string     `json:"roomId"`                   // ルームの一意な識別子
	Name           string     `json:"name,omitempty"`           // ルーム名（オプショナル）
	HostId         string     `json:"hostId"`                   // 現在のホストのプレイヤーID
	Status         RoomStatus `json:"status"`                   // waiting / in_round / finished
	CurrentRoundId string     `json:"currentRoundId,omitempty"` // 進行中（または作成済み）のラウンド
	CreatedAt      int64      `json:"createdAt"`                // ルーム作成日時（Unixミリ秒）
}

// RoomSummary はルーム一覧の1行分
type RoomSummary struct {
	Room
	PlayerCount int `json:"playerCount"` // 参加中のプレイヤー数（切断中を含む）
}

// Player はルームに参加するプレイヤーの情報を表します
type Player struct {
	PlayerId  string `json:"playerId"`  // プレイヤーの一意な識別子
	UserName  string `json:"userName"`  // 表示名（接続中プレイヤー間で一意）
	Score     int    `json:"score"`     // 累積スコア
	IsHost    bool   `json:"isHost"`    // ホストフラグ（ルーム内で1人だけ）
	Connected bool   `json:"connected"` // 接続状態
	Disabled  bool   `json:"disabled"`  // true の間は投票・告発の対象外
	JoinedAt  int64  `json:"joinedAt"`  // 参加日時（Unixミリ秒）
}

// Round は1回分のお題とインポスター割り当て
type Round struct {
	RoundId        string   `json:"roundId"`
	RoundNumber    int      `json:"roundNumber"`
	ImporterId     string   `json:"importerId"` // 割り当て前は PendingImporter
	WordA          string   `json:"wordA"`
	WordB          string   `json:"wordB"`
	GeneratedBy    string   `json:"generatedBy"`
	CreatedAt      int64    `json:"createdAt"`
	StartedAt      int64    `json:"startedAt,omitempty"`
	EndedAt        int64    `json:"endedAt,omitempty"`
	WinnerIds      []string `json:"winnerIds,omitempty"`
	WinnerMarkedBy string   `json:"winnerMarkedBy,omitempty"`
}

// IsPending はインポスターがまだ割り当てられていないかを返します
func (r Round) IsPending() bool { return r.ImporterId == PendingImporter }

// IsStarted はラウンドが開始済みかを返します
func (r Round) IsStarted() bool { return r.StartedAt != 0 }

// IsResolved は勝者が確定済みかを返します
func (r Round) IsResolved() bool { return len(r.WinnerIds) > 0 }

// IsLive は開始済みかつ未解決のラウンドかを返します
func (r Round) IsLive() bool { return r.IsStarted() && !r.IsResolved() }

// Vote は投票1件
type Vote struct {
	VoterId    string `json:"voterId"`
	VotedForId string `json:"votedForId"`
	CreatedAt  int64  `json:"createdAt"`
}

// VotingSession はラウンド中の告発フェーズ
type VotingSession struct {
	SessionId  string         `json:"sessionId"`
	RoundId    string         `json:"roundId"`
	Status     SessionStatus  `json:"status"`
	Votes      []Vote         `json:"votes"`
	StartedAt  int64          `json:"startedAt"`
	EndedAt    int64          `json:"endedAt,omitempty"`
	WinnerId   string         `json:"winnerId,omitempty"`
	IsImpostor bool           `json:"isImpostor"`
	IsTie      bool           `json:"isTie"`
	VoteCounts map[string]int `json:"voteCounts,omitempty"`
}

// HasVoted は voterId が既に投票済みかを返します
func (s VotingSession) HasVoted(voterId string) bool {
	for _, v := range s.Votes {
		if v.VoterId == voterId {
			return true
		}
	}
	return false
}

// WordPair はワードソースが返す単語ペア
type WordPair struct {
	WordA  string `json:"wordA"`            // 一般的な語
	WordB  string `json:"wordB"`            // 口語・スラング側
	Source string `json:"source,omitempty"` // 取得元（csv / postgres / default / manual）
}

// Valid は両方の単語が空でないかを返します
func (p WordPair) Valid() bool { return p.WordA != "" && p.WordB != "" }

// UnixNow は現在時刻をミリ秒で返します
func UnixNow() int64 { return time.Now().UnixMilli() }
