package service

import "github.com/thongdn34/guess-the-word-name/internal/models"

// TallyResult は投票の集計結果
type TallyResult struct {
	Counts   map[string]int // ルームの全プレイヤーの得票数（0票を含む）
	MaxVotes int
	Leaders  []string // 得票数が MaxVotes のプレイヤー（参加順）
	WinnerId string   // 単独トップのときだけ設定される
	IsTie    bool
}

// Tally はプレイヤーごとの得票数を数えます
// 最多得票者が2人以上、または誰も票を得ていない場合は同票扱いです
// ルームにいないプレイヤーへの票は数えません
func Tally(players []models.Player, votes []models.Vote) TallyResult {
	ordered := append([]models.Player(nil), players...)
	models.SortPlayers(ordered)

	res := TallyResult{Counts: make(map[string]int, len(ordered))}
	for _, p := range ordered {
		res.Counts[p.PlayerId] = 0
	}
	for _, v := range votes {
		if _, ok := res.Counts[v.VotedForId]; ok {
			res.Counts[v.VotedForId]++
		}
	}

	for _, p := range ordered {
		if c := res.Counts[p.PlayerId]; c > res.MaxVotes {
			res.MaxVotes = c
		}
	}
	for _, p := range ordered {
		if res.Counts[p.PlayerId] == res.MaxVotes {
			res.Leaders = append(res.Leaders, p.PlayerId)
		}
	}

	if res.MaxVotes == 0 || len(res.Leaders) != 1 {
		res.IsTie = true
		return res
	}
	res.WinnerId = res.Leaders[0]
	return res
}
