package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/loom/internal/episode"
)

// ErrNotFound is returned when no episode has the requested identifier.
var ErrNotFound = errors.New("episode not found")

// WriteEpisode stores ep and its turns in one transaction. Writing an
// identifier that already exists replaces its turns.
func (s *Store) WriteEpisode(ctx context.Context, runID uuid.UUID, ep episode.Episode) error {
	_, err := s.InsertEpisode(ctx, runID, ep)
	return err
}

// InsertEpisode is WriteEpisode returning the row ID.
func (s *Store) InsertEpisode(ctx context.Context, runID uuid.UUID, ep episode.Episode) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO episodes (id, identifier, run_id, turn_count, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (identifier)
		DO UPDATE SET
			run_id = EXCLUDED.run_id,
			turn_count = EXCLUDED.turn_count,
			created_at = now()
		RETURNING id`,
		uuid.New(), ep.Identifier, runID, len(ep.Turns),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert episode: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM episode_turns WHERE episode_id = $1`, id); err != nil {
		return uuid.Nil, fmt.Errorf("clear turns: %w", err)
	}

	rows := make([][]any, len(ep.Turns))
	for i, t := range ep.Turns {
		rows[i] = []any{id, i, t.Kind.String(), t.Utterance}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"episode_turns"},
		[]string{"episode_id", "idx", "kind", "utterance"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("copy turns: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	return id, nil
}

// GetEpisode loads an episode and its turns in order.
func (s *Store) GetEpisode(ctx context.Context, identifier string) (*episode.Episode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.kind, t.utterance
		FROM episodes e
		JOIN episode_turns t ON t.episode_id = e.id
		WHERE e.identifier = $1
		ORDER BY t.idx`,
		identifier,
	)
	if err != nil {
		return nil, fmt.Errorf("query episode: %w", err)
	}
	defer rows.Close()

	ep := &episode.Episode{Identifier: identifier}
	for rows.Next() {
		var kind, utterance string
		if err := rows.Scan(&kind, &utterance); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		k, err := episode.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		ep.Turns = append(ep.Turns, episode.Turn{Utterance: utterance, Kind: k})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	if len(ep.Turns) == 0 {
		return nil, fmt.Errorf("%s: %w", identifier, ErrNotFound)
	}
	return ep, nil
}

// Stats summarises the archive.
type Stats struct {
	Episodes int64 `json:"episodes"`
	Turns    int64 `json:"turns"`
	Runs     int64 `json:"runs"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), coalesce(sum(turn_count), 0), count(DISTINCT run_id)
		FROM episodes`,
	).Scan(&st.Episodes, &st.Turns, &st.Runs)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

// DeleteRun removes every episode written by a run.
func (s *Store) DeleteRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM episodes WHERE run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("delete run: %w", err)
	}
	return tag.RowsAffected(), nil
}
