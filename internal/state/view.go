package state

import "github.com/thongdn34/guess-the-word-name/internal/models"

// RoundView はラウンドの表示用データ
// 進行中のラウンドではお題とインポスターを伏せます
type RoundView struct {
	RoundId        string   `json:"roundId"`
	RoundNumber    int      `json:"roundNumber"`
	ImporterId     string   `json:"importerId,omitempty"`
	WordA          string   `json:"wordA,omitempty"`
	WordB          string   `json:"wordB,omitempty"`
	GeneratedBy    string   `json:"generatedBy"`
	CreatedAt      int64    `json:"createdAt"`
	StartedAt      int64    `json:"startedAt,omitempty"`
	EndedAt        int64    `json:"endedAt,omitempty"`
	WinnerIds      []string `json:"winnerIds,omitempty"`
	WinnerMarkedBy string   `json:"winnerMarkedBy,omitempty"`
}

// View はあるプレイヤーから見たルームの状態
type View struct {
	Rev           int64                 `json:"rev"`
	Room          models.Room           `json:"room"`
	Me            *models.Player        `json:"me,omitempty"`
	IsHost        bool                  `json:"isHost"`
	MyWord        string                `json:"myWord,omitempty"` // 進行中のラウンドで自分に配られた単語
	HasVoted      bool                  `json:"hasVoted"`
	Players       []models.Player       `json:"players"`
	Rounds        []RoundView           `json:"rounds"`
	CurrentRound  *RoundView            `json:"currentRound,omitempty"`
	VotingSession *models.VotingSession `json:"votingSession,omitempty"`
}

// NewView は viewerId のプレイヤー向けにスナップショットを変換します
// viewerId が空またはルームにいない場合は観戦者として扱います
func NewView(snap models.Snapshot, viewerId string) View {
	v := View{
		Rev:           snap.Rev,
		Room:          snap.Room,
		Players:       snap.Players,
		Rounds:        make([]RoundView, 0, len(snap.Rounds)),
		VotingSession: snap.VotingSession,
	}
	if v.Players == nil {
		v.Players = []models.Player{}
	}

	for _, p := range snap.Players {
		if viewerId != "" && p.PlayerId == viewerId {
			me := p
			v.Me = &me
			v.IsHost = p.IsHost
			break
		}
	}

	for _, r := range snap.Rounds {
		v.Rounds = append(v.Rounds, projectRound(r))
	}
	if snap.CurrentRound != nil {
		cur := projectRound(*snap.CurrentRound)
		v.CurrentRound = &cur
		if v.Me != nil && snap.CurrentRound.IsLive() {
			v.MyWord = WordFor(*snap.CurrentRound, v.Me.PlayerId)
		}
	}
	if v.Me != nil && snap.VotingSession != nil {
		v.HasVoted = snap.VotingSession.HasVoted(v.Me.PlayerId)
	}
	return v
}

// WordFor はプレイヤーに配られる単語を返します。インポスターには WordB、それ以外には WordA
func WordFor(r models.Round, playerId string) string {
	if r.ImporterId == playerId {
		return r.WordB
	}
	return r.WordA
}

func projectRound(r models.Round) RoundView {
	rv := RoundView{
		RoundId:        r.RoundId,
		RoundNumber:    r.RoundNumber,
		GeneratedBy:    r.GeneratedBy,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		WinnerIds:      r.WinnerIds,
		WinnerMarkedBy: r.WinnerMarkedBy,
	}
	if r.IsResolved() {
		rv.ImporterId = r.ImporterId
		rv.WordA = r.WordA
		rv.WordB = r.WordB
	}
	return rv
}
