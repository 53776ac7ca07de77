package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/thongdn34/guess-the-word-name/internal/models"
	"github.com/thongdn34/guess-the-word-name/internal/service"
	"github.com/thongdn34/guess-the-word-name/internal/state"
)

// GameHandler はラウンドと投票のコマンドを受け付けます
type GameHandler struct {
	rounds *service.RoundManager
	votes  *service.VotingEngine
}

func NewGameHandler(rounds *service.RoundManager, votes *service.VotingEngine) *GameHandler {
	return &GameHandler{rounds: rounds, votes: votes}
}

type createRoundRequest struct {
	UserId string `json:"userId"`
	WordA  string `json:"wordA"`
	WordB  string `json:"wordB"`
}

func (r createRoundRequest) validate() error {
	return validateUserId(r.UserId)
}

// manual はお題が手入力された場合だけペアを返します
func (r createRoundRequest) manual() *models.WordPair {
	if strings.TrimSpace(r.WordA) == "" && strings.TrimSpace(r.WordB) == "" {
		return nil
	}
	return &models.WordPair{WordA: r.WordA, WordB: r.WordB}
}

type markWinnersRequest struct {
	UserId    string   `json:"userId"`
	WinnerIds []string `json:"winnerIds"`
	Points    int      `json:"points"`
}

func (r markWinnersRequest) validate() error {
	return validateUserId(r.UserId)
}

type castVoteRequest struct {
	UserId     string `json:"userId"`
	VotedForId string `json:"votedForId"`
}

func (r castVoteRequest) validate() error {
	if err := validateUserId(r.UserId); err != nil {
		return err
	}
	return required("votedForId", r.VotedForId)
}

// pathParam はURLパラメータを取り出します。空の場合はレスポンスを返して false
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := normalizeID(chi.URLParam(r, name))
	if err := required(name, v); err != nil {
		respondBadRequest(w, err.Error())
		return "", false
	}
	return v, true
}

func (h *GameHandler) CreateRound(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	var in createRoundRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	round, err := h.rounds.CreateRound(r.Context(), roomId, normalizeID(in.UserId), in.manual())
	if err != nil {
		respondServiceError(w, r, "create round", err)
		return
	}
	// お題はラウンド開始後に各自の画面にだけ配る
	respondJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"roundId":     round.RoundId,
		"roundNumber": round.RoundNumber,
		"generatedBy": round.GeneratedBy,
	})
}

func (h *GameHandler) StartRound(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	roundId, ok := pathParam(w, r, "roundId")
	if !ok {
		return
	}
	var in userRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	userId := normalizeID(in.UserId)
	round, err := h.rounds.StartRound(r.Context(), roomId, roundId, userId)
	if err != nil {
		respondServiceError(w, r, "start round", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"roundId":   round.RoundId,
		"startedAt": round.StartedAt,
		"myWord":    state.WordFor(round, userId),
	})
}

func (h *GameHandler) MarkWinners(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	roundId, ok := pathParam(w, r, "roundId")
	if !ok {
		return
	}
	var in markWinnersRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	round, err := h.rounds.MarkWinners(r.Context(), roomId, roundId, normalizeID(in.UserId), in.WinnerIds, in.Points)
	if err != nil {
		respondServiceError(w, r, "mark winners", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "round": round})
}

func (h *GameHandler) StartNewRound(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	var in userRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	if err := h.votes.StartNewRound(r.Context(), roomId, normalizeID(in.UserId)); err != nil {
		respondServiceError(w, r, "start new round", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *GameHandler) StartVoting(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	var in userRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	session, err := h.votes.StartVotingSession(r.Context(), roomId, normalizeID(in.UserId))
	if err != nil {
		respondServiceError(w, r, "start voting", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "session": session})
}

func (h *GameHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	sessionId, ok := pathParam(w, r, "sessionId")
	if !ok {
		return
	}
	var in castVoteRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	session, err := h.votes.CastVote(r.Context(), roomId, sessionId, normalizeID(in.UserId), normalizeID(in.VotedForId))
	if err != nil {
		respondServiceError(w, r, "cast vote", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "session": session})
}

func (h *GameHandler) EndVoting(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	sessionId, ok := pathParam(w, r, "sessionId")
	if !ok {
		return
	}
	var in userRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	session, err := h.votes.EndVotingSession(r.Context(), roomId, sessionId, normalizeID(in.UserId))
	if err != nil {
		respondServiceError(w, r, "end voting", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "session": session})
}
