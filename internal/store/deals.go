package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dealfiles/internal/models"
)

// DealExists checks whether a deal exists by id.
func (s *Store) DealExists(ctx context.Context, id string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM deals WHERE id = ? LIMIT 1", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateDeal registers one deal.
func (s *Store) CreateDeal(ctx context.Context, deal *models.Deal) error {
	if deal == nil {
		return fmt.Errorf("deal is required")
	}
	if deal.CreatedAt.IsZero() {
		deal.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO deals (id, name, created_at) VALUES (?, ?, ?)",
		deal.ID, nullIfEmpty(deal.Name), formatTime(deal.CreatedAt))
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("%w: deal %s already exists", ErrConflict, deal.ID)
		}
		return err
	}
	return nil
}

// GetDeal returns one deal by id.
func (s *Store) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	deal, err := scanDeal(s.db.QueryRowContext(ctx, "SELECT id, name, created_at FROM deals WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: deal %s", ErrNotFound, id)
		}
		return nil, err
	}
	return deal, nil
}

// ListDeals lists all deals ordered by id.
func (s *Store) ListDeals(ctx context.Context) ([]models.Deal, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM deals ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deals := []models.Deal{}
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *deal)
	}
	return deals, rows.Err()
}

func scanDeal(scanner interface {
	Scan(dest ...any) error
}) (*models.Deal, error) {
	deal := models.Deal{}
	var name sql.NullString
	var createdAt string
	if err := scanner.Scan(&deal.ID, &name, &createdAt); err != nil {
		return nil, err
	}
	parsed, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	deal.Name = name.String
	deal.CreatedAt = parsed
	return &deal, nil
}
