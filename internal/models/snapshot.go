package models

import "sort"

// Snapshot はあるコミット時点でのルーム全体の状態です
// Rev はルームごとに単調増加するコミット番号
type Snapshot struct {
	Rev           int64          `json:"rev"`
	Room          Room           `json:"room"`
	Players       []Player       `json:"players"`
	Rounds        []Round        `json:"rounds"`                  // roundNumber 降順
	CurrentRound  *Round         `json:"currentRound,omitempty"`  // Room.CurrentRoundId のラウンド
	VotingSession *VotingSession `json:"votingSession,omitempty"` // アクティブなセッション、なければ現ラウンドの最新
}

// NewSnapshot はストアから読み出したドキュメント群からスナップショットを組み立てます
func NewSnapshot(rev int64, room Room, players []Player, rounds []Round, sessions []VotingSession) Snapshot {
	SortPlayers(players)
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].RoundNumber > rounds[j].RoundNumber })

	s := Snapshot{Rev: rev, Room: room, Players: players, Rounds: rounds}
	if s.Players == nil {
		s.Players = []Player{}
	}
	if s.Rounds == nil {
		s.Rounds = []Round{}
	}

	for i := range rounds {
		if rounds[i].RoundId == room.CurrentRoundId && room.CurrentRoundId != "" {
			r := rounds[i]
			s.CurrentRound = &r
			break
		}
	}

	if active, ok := ActiveSession(sessions); ok {
		s.VotingSession = &active
	} else if s.CurrentRound != nil {
		var latest *VotingSession
		for i := range sessions {
			if sessions[i].RoundId != s.CurrentRound.RoundId {
				continue
			}
			if latest == nil || sessions[i].StartedAt > latest.StartedAt ||
				(sessions[i].StartedAt == latest.StartedAt && sessions[i].SessionId > latest.SessionId) {
				latest = &sessions[i]
			}
		}
		if latest != nil {
			v := *latest
			s.VotingSession = &v
		}
	}
	return s
}

// SortPlayers は参加順（joinedAt, playerId）に並べ替えます
// ホスト移譲の候補順もこの順序に従います
func SortPlayers(players []Player) {
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt != players[j].JoinedAt {
			return players[i].JoinedAt < players[j].JoinedAt
		}
		return players[i].PlayerId < players[j].PlayerId
	})
}

// ActiveSession はアクティブな投票セッションを返します
func ActiveSession(sessions []VotingSession) (VotingSession, bool) {
	for _, s := range sessions {
		if s.Status == SessionActive {
			return s, true
		}
	}
	return VotingSession{}, false
}
