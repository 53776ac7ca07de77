package service

import (
	"github.com/thongdn34/guess-the-word-name/internal/models"
	"github.com/thongdn34/guess-the-word-name/internal/repo"
)

// loadRoom はルームを読み込み、存在しない場合は ErrRoomNotFound を返します
func loadRoom(tx repo.Tx) (models.Room, error) {
	room, ok, err := tx.Room()
	if err != nil {
		return models.Room{}, err
	}
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	return room, nil
}

// loadOpenRoom は終了済みのルームを ErrRoomFinished として弾きます
func loadOpenRoom(tx repo.Tx) (models.Room, error) {
	room, err := loadRoom(tx)
	if err != nil {
		return models.Room{}, err
	}
	if room.Status == models.RoomFinished {
		return models.Room{}, ErrRoomFinished
	}
	return room, nil
}

// loadHostRoom はホストだけが実行できるコマンド用
func loadHostRoom(tx repo.Tx, requesterId string) (models.Room, error) {
	room, err := loadOpenRoom(tx)
	if err != nil {
		return models.Room{}, err
	}
	if room.HostId == "" || room.HostId != requesterId {
		return models.Room{}, ErrNotHost
	}
	return room, nil
}

func connectedPlayers(players []models.Player) []models.Player {
	out := make([]models.Player, 0, len(players))
	for _, p := range players {
		if p.Connected {
			out = append(out, p)
		}
	}
	return out
}

func canVote(p models.Player) bool {
	return p.Connected && !p.Disabled
}

// allEligibleVoted は投票できるプレイヤー（接続中かつ無効化されていない）が全員投票済みかを返します
// 途中で切断・無効化されたプレイヤーの票は集計には残りますが、ここでは数えません
func allEligibleVoted(players []models.Player, session models.VotingSession) bool {
	for _, p := range players {
		if canVote(p) && !session.HasVoted(p.PlayerId) {
			return false
		}
	}
	return true
}

func activeSession(tx repo.Tx) (models.VotingSession, bool, error) {
	sessions, err := tx.Sessions()
	if err != nil {
		return models.VotingSession{}, false, err
	}
	s, ok := models.ActiveSession(sessions)
	return s, ok, nil
}

// resolveSession は投票を集計し、結果に応じた副作用を同じトランザクションに積みます
//   - 同票: セッションを完了にするだけ
//   - インポスター的中: ラウンド終了、ルームを waiting に戻す
//   - 外れ: 告発されたプレイヤーを無効化、ラウンドは継続
func resolveSession(tx repo.Tx, room models.Room, session models.VotingSession, now int64) (models.VotingSession, error) {
	round, ok, err := tx.Round(session.RoundId)
	if err != nil {
		return models.VotingSession{}, err
	}
	if !ok {
		return models.VotingSession{}, ErrRoundNotFound
	}
	players, err := tx.Players()
	if err != nil {
		return models.VotingSession{}, err
	}

	res := Tally(players, session.Votes)
	session.Status = models.SessionCompleted
	session.EndedAt = now
	session.VoteCounts = res.Counts
	session.IsTie = res.IsTie
	session.WinnerId = res.WinnerId
	session.IsImpostor = !res.IsTie && res.WinnerId == round.ImporterId

	switch {
	case res.IsTie:
	case session.IsImpostor:
		round.EndedAt = now
		round.WinnerIds = []string{res.WinnerId}
		round.WinnerMarkedBy = models.VotingSystem
		tx.PutRound(round)
		room.Status = models.RoomWaiting
		room.CurrentRoundId = ""
		tx.PutRoom(room)
	default:
		for _, p := range players {
			if p.PlayerId == res.WinnerId {
				p.Disabled = true
				tx.PutPlayer(p)
				break
			}
		}
	}
	tx.PutSession(session)
	return session, nil
}

// autoEndIfComplete は投票可能なプレイヤー全員の票が揃っていればセッションを終了させます
// 切断や退出で投票可能な人数が減った場合にも呼ばれます
func autoEndIfComplete(tx repo.Tx, room models.Room, session models.VotingSession, now int64) (models.VotingSession, bool, error) {
	if session.Status != models.SessionActive || len(session.Votes) == 0 {
		return session, false, nil
	}
	players, err := tx.Players()
	if err != nil {
		return session, false, err
	}
	if !allEligibleVoted(players, session) {
		return session, false, nil
	}
	resolved, err := resolveSession(tx, room, session, now)
	return resolved, err == nil, err
}
