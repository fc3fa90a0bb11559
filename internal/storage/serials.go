package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"serialnotify/internal/domain"
)

// recentYear is the cut-off for search results: older serials only show up
// while they are still running.
const recentYear = 2017

type serialRepo struct{ s *sqlStore }

const serialColumns = `id, title, origin_title, url, year, voices, finished, updated`

func (r serialRepo) Upsert(ctx context.Context, sr domain.Serial) error {
	if err := sr.Validate(); err != nil {
		return err
	}
	if sr.Updated.IsZero() {
		sr.Updated = time.Now()
	}
	_, err := r.s.exec(ctx, `
INSERT INTO serials (id, title, origin_title, url, year, voices, finished, search_field, updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    title = excluded.title,
    origin_title = excluded.origin_title,
    url = excluded.url,
    year = excluded.year,
    voices = excluded.voices,
    finished = excluded.finished,
    search_field = excluded.search_field,
    updated = excluded.updated`,
		sr.ID, sr.Title, sr.OriginTitle, sr.URL, sr.Year, encodeList(sr.Voices), sr.Finished,
		sr.SearchField(), millis(sr.Updated))
	if err != nil {
		return fmt.Errorf("upsert serial %d: %w", sr.ID, err)
	}
	return nil
}

func (r serialRepo) Get(ctx context.Context, id int64) (domain.Serial, error) {
	row := r.s.queryRow(ctx, `SELECT `+serialColumns+` FROM serials WHERE id = ?`, id)
	sr, err := scanSerial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Serial{}, ErrNotFound
	}
	if err != nil {
		return domain.Serial{}, fmt.Errorf("get serial %d: %w", id, err)
	}
	return sr, nil
}

func (r serialRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := r.s.queryRow(ctx, `SELECT COUNT(*) FROM serials WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("serial exists %d: %w", id, err)
	}
	return n > 0, nil
}

func (r serialRepo) Search(ctx context.Context, query string, page, limit int) ([]domain.Serial, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := r.s.query(ctx, `
SELECT `+serialColumns+` FROM serials
WHERE search_field LIKE ? ESCAPE '\'
  AND (year >= ? OR year = 0 OR finished = ?)
ORDER BY year DESC, id DESC
LIMIT ? OFFSET ?`,
		pattern, recentYear, false, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("search serials: %w", err)
	}
	defer rows.Close()

	var out []domain.Serial
	for rows.Next() {
		sr, err := scanSerial(rows)
		if err != nil {
			return nil, fmt.Errorf("search serials: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSerial(sc rowScanner) (domain.Serial, error) {
	var (
		sr      domain.Serial
		voices  string
		updated int64
	)
	if err := sc.Scan(&sr.ID, &sr.Title, &sr.OriginTitle, &sr.URL, &sr.Year, &voices, &sr.Finished, &updated); err != nil {
		return domain.Serial{}, err
	}
	sr.Voices = decodeList(voices)
	sr.Updated = fromMillis(updated)
	return sr, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
