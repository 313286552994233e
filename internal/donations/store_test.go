package donations_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overlaycast/internal/config"
	"overlaycast/internal/donations"
	"overlaycast/internal/logging"
	"overlaycast/internal/overlay"
	"overlaycast/internal/services"
	"overlaycast/internal/testsupport"
)

var fixedNow = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *donations.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return testsupport.MustOpenStore(t, cfg, testsupport.FixedClock(fixedNow))
}

func rankingOf(n int) []donations.RankingEntry {
	entries := make([]donations.RankingEntry, 0, n)
	for i := 1; i <= n; i++ {
		entries = append(entries, donations.RankingEntry{
			Position:   i,
			DonorID:    int64(i),
			Amount:     float64(100 - i),
			Identifier: fmt.Sprintf("donor-%d", i),
		})
	}
	return entries
}

func TestOpenIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenStore(t, cfg)
	require.NoError(t, first.Close())

	second := testsupport.MustOpenStore(t, cfg)
	require.NoError(t, second.Ping(context.Background()))
	assert.Equal(t, "sqlite", second.Driver())
}

func TestCreateDonor(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	id, err := store.CreateDonor(ctx, donations.DonorInput{Identifier: "Ana", Amount: 25.5, Currency: "brl"})
	require.NoError(t, err)
	donor, err := store.Donor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ana", donor.Identifier)
	assert.Equal(t, 25.5, donor.Amount)
	assert.Equal(t, "brl", donor.Currency)
	assert.True(t, donor.CreatedAt.Equal(fixedNow))

	_, err = store.CreateDonor(ctx, donations.DonorInput{Identifier: "  "})
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = store.Donor(ctx, 9999)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestReplaceRankingRejectsElevenEntries(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceRanking(ctx, rankingOf(3)))

	err := store.ReplaceRanking(ctx, rankingOf(11))
	require.ErrorIs(t, err, services.ErrValidation)

	stored, err := store.Ranking(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 3, "rejected replace must leave the ranking untouched")
}

func TestReplaceRankingIsAtomic(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceRanking(ctx, rankingOf(10)))

	stored, err := store.Ranking(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 10)
	assert.Equal(t, "donor-1", stored[0].Identifier)
	assert.Equal(t, 10, stored[9].Position)

	replacement := []donations.RankingEntry{{Position: 1, DonorID: 7, Amount: 500, Identifier: "whale"}}
	require.NoError(t, store.ReplaceRanking(ctx, replacement))
	stored, err = store.Ranking(ctx)
	require.NoError(t, err)
	assert.Equal(t, replacement, stored)

	dup := []donations.RankingEntry{{Position: 1, Identifier: "a"}, {Position: 1, Identifier: "b"}}
	require.ErrorIs(t, store.ReplaceRanking(ctx, dup), services.ErrValidation)
	stored, err = store.Ranking(ctx)
	require.NoError(t, err)
	assert.Equal(t, replacement, stored)
}

func TestCreateAlertValidatesWindow(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.CreateAlert(ctx, donations.AlertInput{Message: "hi", ShowAt: fixedNow, HideAt: fixedNow})
	assert.ErrorIs(t, err, services.ErrValidation)
	_, err = store.CreateAlert(ctx, donations.AlertInput{ShowAt: fixedNow, HideAt: fixedNow.Add(time.Minute)})
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestSnapshotReturnsActiveAlertsAndLink(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceRanking(ctx, []donations.RankingEntry{
		{Position: 2, DonorID: 2, Amount: 10, Identifier: "second"},
		{Position: 1, DonorID: 1, Amount: 20, Identifier: "first"},
	}))

	donorID := int64(1)
	active1, err := store.CreateAlert(ctx, donations.AlertInput{Message: "thanks first", ShowAt: fixedNow.Add(-time.Minute), HideAt: fixedNow.Add(time.Minute), DonorID: &donorID})
	require.NoError(t, err)
	_, err = store.CreateAlert(ctx, donations.AlertInput{Message: "expired", ShowAt: fixedNow.Add(-time.Hour), HideAt: fixedNow})
	require.NoError(t, err)
	_, err = store.CreateAlert(ctx, donations.AlertInput{Message: "future", ShowAt: fixedNow.Add(time.Second), HideAt: fixedNow.Add(time.Hour)})
	require.NoError(t, err)
	active2, err := store.CreateAlert(ctx, donations.AlertInput{Message: "starts now", ShowAt: fixedNow, HideAt: fixedNow.Add(time.Hour)})
	require.NoError(t, err)

	update, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, update.HasRanking && update.HasAlerts && update.HasPaymentLink)
	assert.Equal(t, []overlay.RankEntry{{Rank: 1, Identifier: "first", Amount: 20}, {Rank: 2, Identifier: "second", Amount: 10}}, update.Ranking)
	assert.Equal(t, []overlay.Alert{{ID: active1, Message: "thanks first"}, {ID: active2, Message: "starts now"}}, update.Alerts)
	assert.Nil(t, update.PaymentLink, "no link row means no link")

	url := "https://pay.example/stream"
	label := "Support"
	_, err = store.PutPaymentLink(ctx, donations.PaymentLinkPatch{URL: &url, Label: &label})
	require.NoError(t, err)
	update, err = store.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, update.PaymentLink)
	assert.Equal(t, overlay.PaymentLink{URL: url, Label: label}, *update.PaymentLink)

	inactive := false
	_, err = store.PutPaymentLink(ctx, donations.PaymentLinkPatch{Active: &inactive})
	require.NoError(t, err)
	update, err = store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, update.PaymentLink, "inactive link is not shown")
}

func TestSnapshotOfEmptyStoreClearsEverything(t *testing.T) {
	store := openStore(t)
	update, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, update.Empty())
	assert.Empty(t, update.Ranking)
	assert.Empty(t, update.Alerts)
}

func TestSnapshotAfterCloseIsUnreachable(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Close())
	_, err := store.Snapshot(context.Background())
	assert.True(t, errors.Is(err, services.ErrOverlayStoreUnreachable), "got %v", err)
}

func TestOpenPostgresDefersConnection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Store.Driver = config.DriverPostgres
	cfg.Store.DSN = "postgres://u:p@127.0.0.1:1/overlay?connect_timeout=2"

	store, err := donations.Open(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err, "an unreachable server must not fail open")
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = store.Snapshot(ctx)
	assert.True(t, errors.Is(err, services.ErrOverlayStoreUnreachable), "snapshot: %v", err)
	_, err = store.CreateDonor(ctx, donations.DonorInput{Identifier: "Ana", Amount: 1})
	assert.True(t, errors.Is(err, services.ErrOverlayStoreUnreachable), "create donor: %v", err)
	_, err = store.EnsurePaymentLink(ctx, "https://pay.example/a", "Tip")
	assert.True(t, errors.Is(err, services.ErrOverlayStoreUnreachable), "ensure payment link: %v", err)
}

func TestPutPaymentLinkPartialSemantics(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	link, err := store.PaymentLink(ctx)
	require.NoError(t, err)
	assert.False(t, link.Exists)

	label := "Tip jar"
	link, err = store.PutPaymentLink(ctx, donations.PaymentLinkPatch{Label: &label})
	require.NoError(t, err)
	assert.False(t, link.Active, "first write without url defaults to inactive")

	url := "https://pay.example/a"
	link, err = store.PutPaymentLink(ctx, donations.PaymentLinkPatch{URL: &url})
	require.NoError(t, err)
	assert.Equal(t, "Tip jar", link.Label)
	assert.False(t, link.Active, "later writes keep active unless given")

	active := true
	link, err = store.PutPaymentLink(ctx, donations.PaymentLinkPatch{Active: &active})
	require.NoError(t, err)
	assert.True(t, link.Active)

	empty := ""
	link, err = store.PutPaymentLink(ctx, donations.PaymentLinkPatch{URL: &empty})
	require.NoError(t, err)
	assert.Equal(t, "", link.URL)
	assert.False(t, link.Active, "clearing the url deactivates the link")

	stored, err := store.PaymentLink(ctx)
	require.NoError(t, err)
	assert.Equal(t, link, stored)
}

func TestPutPaymentLinkValidation(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	insecure := "http://pay.example"
	_, err := store.PutPaymentLink(ctx, donations.PaymentLinkPatch{URL: &insecure})
	assert.ErrorIs(t, err, services.ErrValidation)

	long := "https://pay.example/" + string(make([]byte, 2048))
	_, err = store.PutPaymentLink(ctx, donations.PaymentLinkPatch{URL: &long})
	assert.ErrorIs(t, err, services.ErrValidation)

	label := "This label is definitely longer than the sixty-four characters allowed"
	_, err = store.PutPaymentLink(ctx, donations.PaymentLinkPatch{Label: &label})
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestEnsurePaymentLinkOnlySeedsOnce(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	wrote, err := store.EnsurePaymentLink(ctx, "https://pay.example/cfg", "Donate")
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = store.EnsurePaymentLink(ctx, "https://pay.example/other", "Other")
	require.NoError(t, err)
	assert.False(t, wrote)

	link, err := store.PaymentLink(ctx)
	require.NoError(t, err)
	assert.Equal(t, donations.PaymentLink{URL: "https://pay.example/cfg", Label: "Donate", Active: true, Exists: true}, link)
}

func TestImportSeed(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	seed, err := overlay.ParseSeed([]byte(`
ranking:
  - position: 1
    identifier: Ana
    amount: 50
alerts:
  - message: "Welcome!"
    duration: 10m
payment_link:
  url: https://pay.example/seed
  label: Chip in
`))
	require.NoError(t, err)
	require.NoError(t, store.ImportSeed(ctx, seed))

	update, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, update.Ranking, 1)
	assert.Equal(t, "Ana", update.Ranking[0].Identifier)
	require.Len(t, update.Alerts, 1)
	assert.Equal(t, "Welcome!", update.Alerts[0].Message)
	require.NotNil(t, update.PaymentLink)
	assert.Equal(t, "Chip in", update.PaymentLink.Label)

	ranking, err := store.Ranking(ctx)
	require.NoError(t, err)
	donor, err := store.Donor(ctx, ranking[0].DonorID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, donor.Amount)
}
