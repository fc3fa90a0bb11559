package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"serialnotify/internal/domain"
)

type watermarkRepo struct{ s *sqlStore }

func (r watermarkRepo) Get(ctx context.Context) (domain.Watermark, error) {
	var hash string
	err := r.s.queryRow(ctx, `SELECT hash FROM watermark WHERE id = ?`, domain.WatermarkID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Watermark{}, nil
	}
	if err != nil {
		return domain.Watermark{}, fmt.Errorf("get watermark: %w", err)
	}
	return domain.Watermark{Hash: hash}, nil
}

func (r watermarkRepo) Set(ctx context.Context, hash string) error {
	if strings.TrimSpace(hash) == "" {
		return &domain.MissingFieldError{Entity: "watermark", Field: "hash"}
	}
	_, err := r.s.exec(ctx, `
INSERT INTO watermark (id, hash) VALUES (?, ?)
ON CONFLICT (id) DO UPDATE SET hash = excluded.hash`, domain.WatermarkID, hash)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}
