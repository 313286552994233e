package donations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const (
	maxPaymentURLLength   = 2048
	maxPaymentLabelLength = 64
)

// PaymentLink is the single global call-to-action row.
type PaymentLink struct {
	URL    string
	Label  string
	Active bool
	// Exists is false until the row is first written.
	Exists bool
}

// PaymentLinkPatch is a partial update. Nil fields are left unchanged.
type PaymentLinkPatch struct {
	URL    *string
	Label  *string
	Active *bool
}

// Validate checks URL and label limits.
func (p PaymentLinkPatch) Validate() error {
	if p.URL != nil {
		url := strings.TrimSpace(*p.URL)
		if url != "" && (!strings.HasPrefix(url, "https://") || len(url) > maxPaymentURLLength) {
			return validationError("payment link", fmt.Sprintf("url must be https and max %d chars", maxPaymentURLLength))
		}
	}
	if p.Label != nil && len(*p.Label) > maxPaymentLabelLength {
		return validationError("payment link", fmt.Sprintf("label max %d chars", maxPaymentLabelLength))
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PaymentLink returns the stored link; a missing row yields a zero value.
func (s *Store) PaymentLink(ctx context.Context) (PaymentLink, error) {
	if err := s.ensureReady(ctx); err != nil {
		return PaymentLink{}, err
	}
	return s.readPaymentLink(ctx, s.db)
}

func (s *Store) readPaymentLink(ctx context.Context, q queryRower) (PaymentLink, error) {
	var (
		url    sql.NullString
		label  sql.NullString
		active bool
	)
	err := q.QueryRowContext(ctx, "SELECT url, label, active FROM payment_link WHERE id = 1").Scan(&url, &label, &active)
	if isNoRows(err) {
		return PaymentLink{}, nil
	}
	if err != nil {
		return PaymentLink{}, fmt.Errorf("get payment link: %w", err)
	}
	return PaymentLink{URL: url.String, Label: label.String, Active: active, Exists: true}, nil
}

// PutPaymentLink applies a partial update. On first write active defaults to
// whether a URL was given; clearing the URL always deactivates the link.
func (s *Store) PutPaymentLink(ctx context.Context, patch PaymentLinkPatch) (PaymentLink, error) {
	if err := patch.Validate(); err != nil {
		return PaymentLink{}, err
	}
	var url, label *string
	if patch.URL != nil {
		v := strings.TrimSpace(*patch.URL)
		url = &v
	}
	if patch.Label != nil {
		v := *patch.Label
		label = &v
	}
	if err := s.ensureReady(ctx); err != nil {
		return PaymentLink{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PaymentLink{}, fmt.Errorf("begin payment link tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.readPaymentLink(ctx, tx)
	if err != nil {
		return PaymentLink{}, err
	}

	next := current
	if !current.Exists {
		next = PaymentLink{Exists: true}
		if url != nil {
			next.URL = *url
		}
		if label != nil {
			next.Label = *label
		}
		next.Active = next.URL != ""
		if patch.Active != nil {
			next.Active = *patch.Active
		}
		_, err = tx.ExecContext(ctx,
			s.rebind("INSERT INTO payment_link (id, url, label, active) VALUES (1, ?, ?, ?)"),
			nullableString(next.URL), nullableString(next.Label), next.Active,
		)
	} else {
		if url != nil {
			next.URL = *url
		}
		if label != nil {
			next.Label = *label
		}
		if patch.Active != nil {
			next.Active = *patch.Active
		}
		if url != nil && *url == "" {
			next.Active = false
		}
		_, err = tx.ExecContext(ctx,
			s.rebind("UPDATE payment_link SET url = ?, label = ?, active = ? WHERE id = 1"),
			nullableString(next.URL), nullableString(next.Label), next.Active,
		)
	}
	if err != nil {
		return PaymentLink{}, fmt.Errorf("write payment link: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return PaymentLink{}, fmt.Errorf("commit payment link: %w", err)
	}
	return next, nil
}

// EnsurePaymentLink writes an active link from configuration when no link has
// ever been stored. It reports whether a row was written.
func (s *Store) EnsurePaymentLink(ctx context.Context, url, label string) (bool, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return false, nil
	}
	current, err := s.PaymentLink(ctx)
	if err != nil {
		return false, err
	}
	if current.Exists {
		return false, nil
	}
	active := true
	if _, err := s.PutPaymentLink(ctx, PaymentLinkPatch{URL: &url, Label: &label, Active: &active}); err != nil {
		return false, err
	}
	return true, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
