package words

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thongdn34/guess-the-word-name/internal/models"
)

const randomPairQuery = "SELECT word_a, word_b FROM word_pairs ORDER BY RANDOM() LIMIT 1"

// PostgresSource は word_pairs テーブルからランダムに1行選びます
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(ctx context.Context, connString string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping word database: %w", err)
	}
	return &PostgresSource{pool: pool}, nil
}

func (s *PostgresSource) Name() string { return SourcePostgres }

func (s *PostgresSource) GeneratePair(ctx context.Context, roomId string) (models.WordPair, error) {
	p := models.WordPair{Source: SourcePostgres}
	err := s.pool.QueryRow(ctx, randomPairQuery).Scan(&p.WordA, &p.WordB)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return models.WordPair{}, ErrNoWords
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return models.WordPair{}, err
		default:
			return models.WordPair{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
	}
	if !p.Valid() {
		return models.WordPair{}, fmt.Errorf("%w: empty word in word_pairs", ErrNoWords)
	}
	return p, nil
}

func (s *PostgresSource) Close() { s.pool.Close() }
