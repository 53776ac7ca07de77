package words

import (
	"context"
	"math/rand"

	"github.com/thongdn34/guess-the-word-name/internal/models"
)

// DefaultPairs は他の取得元が使えないときのお題
var DefaultPairs = []models.WordPair{
	{WordA: "Heo", WordB: "Lợn"},
	{WordA: "Ngô", WordB: "Bắp"},
	{WordA: "Dứa", WordB: "Thơm"},
	{WordA: "Bát", WordB: "Chén"},
	{WordA: "Vừng", WordB: "Mè"},
	{WordA: "Lạc", WordB: "Đậu phộng"},
	{WordA: "Cốc", WordB: "Ly"},
	{WordA: "Ô", WordB: "Dù"},
	{WordA: "Bố", WordB: "Ba"},
	{WordA: "Mẹ", WordB: "Má"},
}

// Static は固定のリストから単語ペアを選びます
type Static struct {
	name  string
	pairs []models.WordPair
	pick  func(n int) int
}

func NewStatic(name string, pairs ...models.WordPair) *Static {
	valid := make([]models.WordPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Valid() {
			valid = append(valid, p)
		}
	}
	return &Static{name: name, pairs: valid, pick: rand.Intn}
}

// Manual はホストが入力した1組だけを返す取得元です
func Manual(wordA, wordB string) *Static {
	return NewStatic(SourceManual, models.WordPair{WordA: wordA, WordB: wordB})
}

func (s *Static) Name() string { return s.name }

func (s *Static) GeneratePair(_ context.Context, _ string) (models.WordPair, error) {
	if len(s.pairs) == 0 {
		return models.WordPair{}, ErrNoWords
	}
	p := s.pairs[s.pick(len(s.pairs))]
	p.Source = s.name
	return p, nil
}
