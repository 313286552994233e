package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadSeedAppliesOnlyPresentSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := `
ranking:
  - position: 2
    identifier: bruno
    amount: 20
  - position: 1
    identifier: ana
    amount: 50.5
payment_link:
  url: https://pay.example/x
  label: Pix
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if !seed.HasRanking() || seed.HasAlerts() || !seed.HasPaymentLink() {
		t.Fatalf("unexpected presence flags: ranking=%v alerts=%v link=%v", seed.HasRanking(), seed.HasAlerts(), seed.HasPaymentLink())
	}

	existing := State{Alerts: []Alert{{Message: "keep me"}}}
	store := NewStore(&existing)
	state := store.Apply(seed.Update())
	if len(state.Alerts) != 1 {
		t.Fatal("alerts absent from seed must be kept")
	}
	if state.Ranking[0].Identifier != "ana" || state.Ranking[0].Amount != 50.5 {
		t.Fatalf("unexpected ranking: %+v", state.Ranking)
	}
	if state.PaymentLink == nil || state.PaymentLink.Label != "Pix" {
		t.Fatalf("unexpected payment link: %+v", state.PaymentLink)
	}
}

func TestParseSeedValidation(t *testing.T) {
	cases := map[string]string{
		"bad yaml":         "ranking: [",
		"zero position":    "ranking:\n  - {position: 0, identifier: a}\n",
		"duplicate":        "ranking:\n  - {position: 1, identifier: a}\n  - {position: 1, identifier: b}\n",
		"missing id":       "ranking:\n  - {position: 1}\n",
		"empty alert":      "alerts:\n  - {message: ''}\n",
		"bad duration":     "alerts:\n  - {message: hi, duration: soon}\n",
		"too many entries": "ranking:\n" + manyEntries(11),
	}
	for name, doc := range cases {
		if _, err := ParseSeed([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := ParseSeed([]byte("ranking:\n" + manyEntries(10))); err != nil {
		t.Fatalf("expected 10 entries to be accepted: %v", err)
	}
}

func TestSeedAlertLifetime(t *testing.T) {
	if (SeedAlert{}).Lifetime() != time.Hour {
		t.Fatal("expected one hour default")
	}
	if (SeedAlert{Duration: "90s"}).Lifetime() != 90*time.Second {
		t.Fatal("expected parsed duration")
	}
}

func manyEntries(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "  - {position: %d, identifier: d%d}\n", i, i)
	}
	return b.String()
}
