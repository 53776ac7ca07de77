package words

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/thongdn34/guess-the-word-name/internal/models"
)

// Fallback は primary が失敗したときに既定のリストから選びます
type Fallback struct {
	primary  Source
	defaults *Static
}

// NewFallback は primary が nil の場合、常に既定のリストを使います
func NewFallback(primary Source, defaults []models.WordPair) *Fallback {
	return &Fallback{primary: primary, defaults: NewStatic(SourceDefault, defaults...)}
}

func (f *Fallback) Name() string {
	if f.primary == nil {
		return SourceDefault
	}
	return f.primary.Name()
}

func (f *Fallback) GeneratePair(ctx context.Context, roomId string) (models.WordPair, error) {
	if f.primary != nil {
		p, err := f.primary.GeneratePair(ctx, roomId)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, context.Canceled) {
			return models.WordPair{}, err
		}
		log.Warn().Err(err).Str("roomId", roomId).Str("source", f.primary.Name()).Msg("word source failed, using default pairs")
	}
	return f.defaults.GeneratePair(ctx, roomId)
}
