package overlay

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Seed is the on-disk bootstrap document. Sections left out of the file are
// not applied, so a seed containing only a payment link keeps any ranking.
type Seed struct {
	Ranking     []SeedRankEntry `yaml:"ranking"`
	Alerts      []SeedAlert     `yaml:"alerts"`
	PaymentLink *PaymentLink    `yaml:"payment_link"`

	hasRanking     bool
	hasAlerts      bool
	hasPaymentLink bool
}

// SeedRankEntry is a ranking row in a seed file. Position doubles as rank.
type SeedRankEntry struct {
	Position   int     `yaml:"position"`
	Identifier string  `yaml:"identifier"`
	Amount     float64 `yaml:"amount"`
}

// SeedAlert is an alert in a seed file. Duration is how long the alert stays
// visible after import (Go duration syntax); empty means one hour.
type SeedAlert struct {
	Message  string `yaml:"message"`
	Duration string `yaml:"duration"`
}

const defaultSeedAlertLifetime = time.Hour

// Lifetime returns how long the alert stays visible after import.
func (a SeedAlert) Lifetime() time.Duration {
	if d, err := time.ParseDuration(a.Duration); err == nil && d > 0 {
		return d
	}
	return defaultSeedAlertLifetime
}

// LoadSeed reads and validates a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overlay seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML.
func ParseSeed(data []byte) (*Seed, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse overlay seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse overlay seed: %w", err)
	}
	_, seed.hasRanking = raw["ranking"]
	_, seed.hasAlerts = raw["alerts"]
	_, seed.hasPaymentLink = raw["payment_link"]

	if len(seed.Ranking) > MaxRankingEntries {
		return nil, fmt.Errorf("overlay seed: ranking has %d entries, maximum is %d", len(seed.Ranking), MaxRankingEntries)
	}
	positions := make(map[int]struct{}, len(seed.Ranking))
	for i, entry := range seed.Ranking {
		if entry.Position <= 0 {
			return nil, fmt.Errorf("overlay seed: ranking[%d].position must be positive", i)
		}
		if _, dup := positions[entry.Position]; dup {
			return nil, fmt.Errorf("overlay seed: duplicate ranking position %d", entry.Position)
		}
		positions[entry.Position] = struct{}{}
		if strings.TrimSpace(entry.Identifier) == "" {
			return nil, fmt.Errorf("overlay seed: ranking[%d].identifier is required", i)
		}
	}
	for i, alert := range seed.Alerts {
		if strings.TrimSpace(alert.Message) == "" {
			return nil, fmt.Errorf("overlay seed: alerts[%d].message is required", i)
		}
		if alert.Duration != "" {
			if d, err := time.ParseDuration(alert.Duration); err != nil || d <= 0 {
				return nil, fmt.Errorf("overlay seed: alerts[%d].duration %q must be a positive duration", i, alert.Duration)
			}
		}
	}
	return &seed, nil
}

// Update converts the seed into a store update containing only the sections present in the file.
func (s *Seed) Update() Update {
	var u Update
	if s.hasRanking {
		u.HasRanking = true
		u.Ranking = make([]RankEntry, 0, len(s.Ranking))
		for _, entry := range s.Ranking {
			u.Ranking = append(u.Ranking, RankEntry{Rank: entry.Position, Identifier: entry.Identifier, Amount: entry.Amount})
		}
	}
	if s.hasAlerts {
		u.HasAlerts = true
		u.Alerts = make([]Alert, 0, len(s.Alerts))
		for _, alert := range s.Alerts {
			u.Alerts = append(u.Alerts, Alert{Message: alert.Message})
		}
	}
	if s.hasPaymentLink {
		u.HasPaymentLink = true
		u.PaymentLink = s.PaymentLink
	}
	return u
}

// HasRanking reports whether the file contained a ranking section.
func (s *Seed) HasRanking() bool { return s.hasRanking }

// HasAlerts reports whether the file contained an alerts section.
func (s *Seed) HasAlerts() bool { return s.hasAlerts }

// HasPaymentLink reports whether the file contained a payment_link section.
func (s *Seed) HasPaymentLink() bool { return s.hasPaymentLink }
