package service

import (
	"errors"

	"github.com/thongdn34/guess-the-word-name/internal/repo"
	"github.com/thongdn34/guess-the-word-name/internal/words"
)

// カスタムエラー定義
var (
	ErrRoomNotFound           = errors.New("room not found")
	ErrPlayerNotFound         = errors.New("player not found")
	ErrRoundNotFound          = errors.New("round not found")
	ErrSessionNotFound        = errors.New("voting session not found")
	ErrNotHost                = errors.New("forbidden: host only")
	ErrRoomIDGenerationFailed = errors.New("failed to generate unique room ID after multiple attempts")

	ErrRoomFinished        = errors.New("room is finished")
	ErrUsernameTaken       = errors.New("username already taken")
	ErrInsufficientPlayers = errors.New("at least 2 connected players required")
	ErrRoundInProgress     = errors.New("another round is in progress")
	ErrNotCurrentRound     = errors.New("round is not the room's current round")
	ErrNoCurrentRound      = errors.New("room has no current round")
	ErrRoundNotPending     = errors.New("round already has an impostor")
	ErrRoundNotStarted     = errors.New("round has not started")
	ErrRoundResolved       = errors.New("round already has winners")
	ErrSessionActive       = errors.New("a voting session is already active")
	ErrSessionNotActive    = errors.New("voting session is not active")
	ErrDuplicateVote       = errors.New("voter already voted in this session")
	ErrSelfVote            = errors.New("cannot vote for yourself")
	ErrInvalidTarget       = errors.New("vote target is disabled or unknown")
	ErrVoterDisabled       = errors.New("disabled players cannot vote")
	ErrVoterDisconnected   = errors.New("disconnected players cannot vote")
	ErrNoWinners           = errors.New("winner list is empty")
	ErrInvalidWords        = errors.New("both words are required")
	ErrNoWordsAvailable    = errors.New("no words available")
)

// Kind は呼び出し元に返すエラーの分類
type Kind int

const (
	KindInternal    Kind = iota // ストア到達不能など
	KindValidation              // 前提条件違反。リトライしても成功しない
	KindNotFound
	KindForbidden
	KindConflict    // 楽観ロックの競合。リトライ可能
	KindUnavailable // お題が取得できない
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

type errorClass struct {
	err  error
	kind Kind
	code string
}

// classes は errors.Is で先頭から順に照合される
var classes = []errorClass{
	{ErrRoomNotFound, KindNotFound, "ROOM_NOT_FOUND"},
	{ErrPlayerNotFound, KindNotFound, "PLAYER_NOT_FOUND"},
	{ErrRoundNotFound, KindNotFound, "ROUND_NOT_FOUND"},
	{ErrSessionNotFound, KindNotFound, "SESSION_NOT_FOUND"},
	{ErrNotHost, KindForbidden, "NOT_HOST"},

	{ErrRoomFinished, KindValidation, "ROOM_FINISHED"},
	{ErrUsernameTaken, KindValidation, "USERNAME_TAKEN"},
	{ErrInsufficientPlayers, KindValidation, "INSUFFICIENT_PLAYERS"},
	{ErrRoundInProgress, KindValidation, "ROUND_IN_PROGRESS"},
	{ErrNotCurrentRound, KindValidation, "NOT_CURRENT_ROUND"},
	{ErrNoCurrentRound, KindValidation, "NO_CURRENT_ROUND"},
	{ErrRoundNotPending, KindValidation, "ROUND_NOT_PENDING"},
	{ErrRoundNotStarted, KindValidation, "ROUND_NOT_STARTED"},
	{ErrRoundResolved, KindValidation, "ROUND_RESOLVED"},
	{ErrSessionActive, KindValidation, "SESSION_ACTIVE"},
	{ErrSessionNotActive, KindValidation, "SESSION_NOT_ACTIVE"},
	{ErrDuplicateVote, KindValidation, "DUPLICATE_VOTE"},
	{ErrSelfVote, KindValidation, "SELF_VOTE"},
	{ErrInvalidTarget, KindValidation, "INVALID_TARGET"},
	{ErrVoterDisabled, KindValidation, "VOTER_DISABLED"},
	{ErrVoterDisconnected, KindValidation, "VOTER_DISCONNECTED"},
	{ErrNoWinners, KindValidation, "NO_WINNERS"},
	{ErrInvalidWords, KindValidation, "INVALID_WORDS"},

	{repo.ErrConflict, KindConflict, "CONFLICT"},
	{ErrNoWordsAvailable, KindUnavailable, "NO_WORDS_AVAILABLE"},
	{words.ErrNoWords, KindUnavailable, "NO_WORDS_AVAILABLE"},
	{words.ErrSourceUnavailable, KindUnavailable, "SOURCE_UNAVAILABLE"},
}

func classify(err error) (errorClass, bool) {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c, true
		}
	}
	return errorClass{}, false
}

// KindOf はエラーを分類します。既知のエラーでなければ KindInternal
func KindOf(err error) Kind {
	if c, ok := classify(err); ok {
		return c.kind
	}
	return KindInternal
}

// CodeOf はクライアント向けの機械可読なエラーコードを返します
func CodeOf(err error) string {
	if c, ok := classify(err); ok {
		return c.code
	}
	return "INTERNAL"
}
