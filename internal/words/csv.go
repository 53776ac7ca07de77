package words

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/thongdn34/guess-the-word-name/internal/models"
)

// CSVSource は wordA,wordB 形式のCSVファイルから単語ペアを選びます
// ファイルは最初の呼び出しで一度だけ読み込み、以後は破棄しません
// 読み込みに失敗した場合はキャッシュせず、次の呼び出しで再度読み込みます
type CSVSource struct {
	path string
	pick func(n int) int

	mu     sync.Mutex
	pairs  []models.WordPair
	loaded bool
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path, pick: rand.Intn}
}

func (s *CSVSource) Name() string { return SourceCSV }

func (s *CSVSource) GeneratePair(ctx context.Context, roomId string) (models.WordPair, error) {
	if err := ctx.Err(); err != nil {
		return models.WordPair{}, err
	}
	pairs, err := s.load()
	if err != nil {
		return models.WordPair{}, err
	}
	p := pairs[s.pick(len(pairs))]
	p.Source = SourceCSV
	return p, nil
}

func (s *CSVSource) load() ([]models.WordPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.pairs, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer f.Close()

	pairs, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, s.path, err)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: %s has no rows", ErrNoWords, s.path)
	}
	s.pairs = pairs
	s.loaded = true
	log.Info().Str("path", s.path).Int("pairs", len(pairs)).Msg("word csv loaded")
	return pairs, nil
}

// ParseCSV は wordA,wordB の行を読み込みます
// ヘッダー行（wordA,wordB）と、どちらかが空の行は読み飛ばします
func ParseCSV(r io.Reader) ([]models.WordPair, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var out []models.WordPair
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if len(rec) >= 2 && strings.EqualFold(strings.TrimSpace(rec[0]), "wordA") &&
				strings.EqualFold(strings.TrimSpace(rec[1]), "wordB") {
				continue
			}
		}
		if len(rec) < 2 {
			continue
		}
		p := models.WordPair{WordA: strings.TrimSpace(rec[0]), WordB: strings.TrimSpace(rec[1])}
		if !p.Valid() {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
