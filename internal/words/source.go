// Package words はラウンドのお題（単語ペア）の取得元を提供します
package words

import (
	"context"
	"errors"

	"github.com/thongdn34/guess-the-word-name/internal/models"
)

var (
	// ErrSourceUnavailable は取得元に一時的に到達できないことを示します
	ErrSourceUnavailable = errors.New("word source unavailable")
	// ErrNoWords は取得元に使える単語ペアが1つもないことを示します
	ErrNoWords = errors.New("no words available")
)

// 取得元の名前（Round.GeneratedBy に記録される）
const (
	SourceCSV      = "csv"
	SourcePostgres = "postgres"
	SourceDefault  = "default"
	SourceManual   = "manual"
)

// Source はルームごとに単語ペアを1つ返します
type Source interface {
	Name() string
	GeneratePair(ctx context.Context, roomId string) (models.WordPair, error)
}
