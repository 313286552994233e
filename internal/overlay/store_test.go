package overlay

import (
	"reflect"
	"sync"
	"testing"
)

func sampleState() State {
	return State{
		Ranking:     []RankEntry{{Rank: 1, Identifier: "ana", Amount: 50}, {Rank: 2, Identifier: "bruno", Amount: 20}},
		Alerts:      []Alert{{ID: 1, Message: "ana sent 50"}},
		PaymentLink: &PaymentLink{URL: "https://pay.example/x", Label: "Donate"},
	}
}

func TestNewStoreStartsEmptyOrSeeded(t *testing.T) {
	if !NewStore(nil).Snapshot().IsEmpty() {
		t.Fatal("expected empty snapshot from nil seed")
	}
	seed := sampleState()
	store := NewStore(&seed)
	seed.Ranking[0].Identifier = "mutated"
	if store.Snapshot().Ranking[0].Identifier != "ana" {
		t.Fatal("store must not alias the seed")
	}
}

func TestApplyOnlyReplacesPresentFields(t *testing.T) {
	seed := sampleState()
	store := NewStore(&seed)
	before := store.Snapshot()

	after := store.Apply(Update{HasAlerts: true, Alerts: []Alert{{Message: "new"}}})
	if !reflect.DeepEqual(after.Ranking, before.Ranking) {
		t.Fatalf("ranking changed without being present: %v", after.Ranking)
	}
	if !reflect.DeepEqual(after.PaymentLink, before.PaymentLink) {
		t.Fatalf("payment link changed without being present: %v", after.PaymentLink)
	}
	if len(after.Alerts) != 1 || after.Alerts[0].Message != "new" {
		t.Fatalf("unexpected alerts: %v", after.Alerts)
	}
	if len(before.Alerts) != 1 || before.Alerts[0].Message != "ana sent 50" {
		t.Fatal("previous snapshot was mutated")
	}

	cleared := store.Apply(Update{HasRanking: true, HasPaymentLink: true})
	if len(cleared.Ranking) != 0 || cleared.PaymentLink != nil {
		t.Fatalf("expected present empty fields to clear, got %+v", cleared)
	}
	if store.Version() != 2 {
		t.Fatalf("expected two applies, got %d", store.Version())
	}
	if store.Apply(Update{}) != cleared || store.Version() != 2 {
		t.Fatal("empty update must be a no-op")
	}
}

func TestApplySortsAndCapsRanking(t *testing.T) {
	store := NewStore(nil)
	var ranking []RankEntry
	for i := 12; i >= 1; i-- {
		ranking = append(ranking, RankEntry{Rank: i, Identifier: "d"})
	}
	state := store.Apply(Update{HasRanking: true, Ranking: ranking})
	if len(state.Ranking) != MaxRankingEntries {
		t.Fatalf("expected ranking capped at %d, got %d", MaxRankingEntries, len(state.Ranking))
	}
	for i, entry := range state.Ranking {
		if entry.Rank != i+1 {
			t.Fatalf("expected rank order, got %v", state.Ranking)
		}
	}
}

func TestApplyDropsLinkWithoutURL(t *testing.T) {
	store := NewStore(nil)
	state := store.Apply(Update{HasPaymentLink: true, PaymentLink: &PaymentLink{Label: "Donate"}})
	if state.PaymentLink != nil {
		t.Fatalf("expected link without url to be absent, got %+v", state.PaymentLink)
	}
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	store := NewStore(nil)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			store.Apply(Update{
				HasRanking: true, Ranking: []RankEntry{{Rank: 1, Identifier: "x", Amount: float64(i)}},
				HasAlerts: true, Alerts: []Alert{{ID: int64(i)}},
			})
		}
	}()
	for i := 0; i < 200; i++ {
		snap := store.Snapshot()
		if len(snap.Ranking) == 1 && len(snap.Alerts) == 1 && int64(snap.Ranking[0].Amount) != snap.Alerts[0].ID {
			t.Fatalf("torn snapshot: %+v", snap)
		}
	}
	wg.Wait()
}
