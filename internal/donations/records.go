package donations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"overlaycast/internal/overlay"
	"overlaycast/internal/services"
)

// Donor is a recorded donation.
type Donor struct {
	ID         int64
	Identifier string
	Amount     float64
	Currency   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DonorInput is the payload for CreateDonor.
type DonorInput struct {
	Identifier string
	Amount     float64
	Currency   string
}

// AlertInput is the payload for CreateAlert.
type AlertInput struct {
	Message string
	ShowAt  time.Time
	HideAt  time.Time
	DonorID *int64
}

// RankingEntry is one stored ranking row.
type RankingEntry struct {
	Position   int     `json:"position"`
	DonorID    int64   `json:"donor_id"`
	Amount     float64 `json:"amount"`
	Identifier string  `json:"identifier"`
}

func validationError(operation, message string) error {
	return services.Wrap(services.ErrValidation, "store", operation, message, nil)
}

// CreateDonor inserts a donor and returns its id.
func (s *Store) CreateDonor(ctx context.Context, in DonorInput) (int64, error) {
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" {
		return 0, validationError("create donor", "identifier is required")
	}
	if err := s.ensureReady(ctx); err != nil {
		return 0, err
	}
	now := formatTime(s.now())
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO donors (identifier, amount, currency, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?) RETURNING id`),
		identifier, in.Amount, nullableString(in.Currency), now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert donor: %w", err)
	}
	return id, nil
}

// CreateAlert inserts an alert visible while show_at <= now < hide_at.
func (s *Store) CreateAlert(ctx context.Context, in AlertInput) (int64, error) {
	message := strings.TrimSpace(in.Message)
	switch {
	case message == "":
		return 0, validationError("create alert", "message is required")
	case in.ShowAt.IsZero() || in.HideAt.IsZero():
		return 0, validationError("create alert", "show_at and hide_at are required")
	case !in.HideAt.After(in.ShowAt):
		return 0, validationError("create alert", "hide_at must be after show_at")
	}
	if err := s.ensureReady(ctx); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO alerts (message, donor_id, show_at, hide_at, created_at)
         VALUES (?, ?, ?, ?, ?) RETURNING id`),
		message, nullableInt64(in.DonorID), formatTime(in.ShowAt), formatTime(in.HideAt), formatTime(s.now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return id, nil
}

// ReplaceRanking atomically swaps the whole ranking for entries.
func (s *Store) ReplaceRanking(ctx context.Context, entries []RankingEntry) error {
	if len(entries) > overlay.MaxRankingEntries {
		return validationError("replace ranking", fmt.Sprintf("max %d entries", overlay.MaxRankingEntries))
	}
	seen := make(map[int]struct{}, len(entries))
	for i, entry := range entries {
		if entry.Position <= 0 {
			return validationError("replace ranking", fmt.Sprintf("entries[%d].position must be positive", i))
		}
		if _, dup := seen[entry.Position]; dup {
			return validationError("replace ranking", fmt.Sprintf("duplicate position %d", entry.Position))
		}
		seen[entry.Position] = struct{}{}
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ranking tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM ranking_entries"); err != nil {
		return fmt.Errorf("clear ranking: %w", err)
	}
	insert := s.rebind("INSERT INTO ranking_entries (position, donor_id, amount, identifier) VALUES (?, ?, ?, ?)")
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, insert, entry.Position, entry.DonorID, entry.Amount, entry.Identifier); err != nil {
			return fmt.Errorf("insert ranking position %d: %w", entry.Position, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ranking: %w", err)
	}
	return nil
}

// Ranking returns the stored ranking ordered by position.
func (s *Store) Ranking(ctx context.Context) ([]RankingEntry, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT position, donor_id, amount, identifier FROM ranking_entries ORDER BY position LIMIT ?"),
		overlay.MaxRankingEntries,
	)
	if err != nil {
		return nil, fmt.Errorf("query ranking: %w", err)
	}
	defer rows.Close()

	var entries []RankingEntry
	for rows.Next() {
		var entry RankingEntry
		if err := rows.Scan(&entry.Position, &entry.DonorID, &entry.Amount, &entry.Identifier); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Donor fetches a donor by id.
func (s *Store) Donor(ctx context.Context, id int64) (*Donor, error) {
	var (
		donor    Donor
		currency *string
		created  string
		updated  string
	)
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT id, identifier, amount, currency, created_at, updated_at FROM donors WHERE id = ?"), id,
	).Scan(&donor.ID, &donor.Identifier, &donor.Amount, &currency, &created, &updated)
	if err != nil {
		if isNoRows(err) {
			return nil, services.Wrap(services.ErrNotFound, "store", "donor", fmt.Sprintf("id %d", id), nil)
		}
		return nil, fmt.Errorf("get donor: %w", err)
	}
	if currency != nil {
		donor.Currency = *currency
	}
	donor.CreatedAt = parseTime(created)
	donor.UpdatedAt = parseTime(updated)
	return &donor, nil
}
