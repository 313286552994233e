package donations

import (
	"context"
	"database/sql"
	"fmt"

	"overlaycast/internal/config"
	"overlaycast/internal/logging"
	"overlaycast/internal/overlay"
	"overlaycast/internal/services"
)

// Snapshot reads the ranking, the alerts active right now and the payment
// link in one read-only transaction. Every field of the returned update is
// present, so an empty table clears the corresponding overlay section.
func (s *Store) Snapshot(ctx context.Context) (overlay.Update, error) {
	if err := s.ensureReady(ctx); err != nil {
		return overlay.Update{}, err
	}
	update, err := s.snapshot(ctx)
	if err != nil {
		return overlay.Update{}, services.Wrap(services.ErrOverlayStoreUnreachable, "store", "snapshot", "", err)
	}
	return update, nil
}

func (s *Store) snapshot(ctx context.Context) (overlay.Update, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: s.driver == config.DriverPostgres})
	if err != nil {
		return overlay.Update{}, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ranking, err := s.snapshotRanking(ctx, tx)
	if err != nil {
		return overlay.Update{}, err
	}
	alerts, err := s.snapshotAlerts(ctx, tx)
	if err != nil {
		return overlay.Update{}, err
	}
	link, err := s.readPaymentLink(ctx, tx)
	if err != nil {
		return overlay.Update{}, err
	}
	if err := tx.Commit(); err != nil {
		return overlay.Update{}, fmt.Errorf("commit snapshot: %w", err)
	}

	update := overlay.Update{
		Ranking:        ranking,
		HasRanking:     true,
		Alerts:         alerts,
		HasAlerts:      true,
		HasPaymentLink: true,
	}
	if link.Active && link.URL != "" {
		update.PaymentLink = &overlay.PaymentLink{URL: link.URL, Label: link.Label}
	}
	return update, nil
}

func (s *Store) snapshotRanking(ctx context.Context, tx *sql.Tx) ([]overlay.RankEntry, error) {
	rows, err := tx.QueryContext(ctx,
		s.rebind("SELECT position, identifier, amount FROM ranking_entries ORDER BY position LIMIT ?"),
		overlay.MaxRankingEntries,
	)
	if err != nil {
		return nil, fmt.Errorf("query ranking: %w", err)
	}
	defer rows.Close()

	ranking := []overlay.RankEntry{}
	for rows.Next() {
		var entry overlay.RankEntry
		if err := rows.Scan(&entry.Rank, &entry.Identifier, &entry.Amount); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		ranking = append(ranking, entry)
	}
	return ranking, rows.Err()
}

func (s *Store) snapshotAlerts(ctx context.Context, tx *sql.Tx) ([]overlay.Alert, error) {
	now := formatTime(s.now())
	rows, err := tx.QueryContext(ctx,
		s.rebind("SELECT id, message FROM alerts WHERE show_at <= ? AND hide_at > ? ORDER BY created_at, id"),
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []overlay.Alert{}
	for rows.Next() {
		var alert overlay.Alert
		if err := rows.Scan(&alert.ID, &alert.Message); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// ImportSeed writes the sections present in seed. Ranking rows get a donor
// record each; alerts start now and last for their seed lifetime.
func (s *Store) ImportSeed(ctx context.Context, seed *overlay.Seed) error {
	if seed == nil {
		return nil
	}
	if seed.HasRanking() {
		entries := make([]RankingEntry, 0, len(seed.Ranking))
		for _, row := range seed.Ranking {
			donorID, err := s.CreateDonor(ctx, DonorInput{Identifier: row.Identifier, Amount: row.Amount})
			if err != nil {
				return fmt.Errorf("seed donor %q: %w", row.Identifier, err)
			}
			entries = append(entries, RankingEntry{
				Position:   row.Position,
				DonorID:    donorID,
				Amount:     row.Amount,
				Identifier: row.Identifier,
			})
		}
		if err := s.ReplaceRanking(ctx, entries); err != nil {
			return err
		}
	}
	if seed.HasAlerts() {
		now := s.now()
		for _, alert := range seed.Alerts {
			if _, err := s.CreateAlert(ctx, AlertInput{Message: alert.Message, ShowAt: now, HideAt: now.Add(alert.Lifetime())}); err != nil {
				return fmt.Errorf("seed alert: %w", err)
			}
		}
	}
	if seed.HasPaymentLink() {
		patch := PaymentLinkPatch{}
		if seed.PaymentLink != nil {
			active := seed.PaymentLink.URL != ""
			patch.URL = &seed.PaymentLink.URL
			patch.Label = &seed.PaymentLink.Label
			patch.Active = &active
		} else {
			empty := ""
			patch.URL = &empty
		}
		if _, err := s.PutPaymentLink(ctx, patch); err != nil {
			return err
		}
	}
	s.logger.Info("overlay seed imported",
		logging.Int("ranking", len(seed.Ranking)),
		logging.Int("alerts", len(seed.Alerts)),
		logging.Bool("payment_link", seed.HasPaymentLink() && seed.PaymentLink != nil),
	)
	return nil
}
