package overlay

import "slices"

// MaxRankingEntries caps the ranking shown on screen.
const MaxRankingEntries = 10

// RankEntry is one ranking row.
type RankEntry struct {
	Rank       int     `json:"rank" yaml:"rank"`
	Identifier string  `json:"identifier" yaml:"identifier"`
	Amount     float64 `json:"amount" yaml:"amount"`
}

// Alert is one on-screen alert line.
type Alert struct {
	ID      int64  `json:"id,omitempty" yaml:"id,omitempty"`
	Message string `json:"message" yaml:"message"`
}

// PaymentLink is the optional call-to-action shown below alerts.
type PaymentLink struct {
	URL   string `json:"url" yaml:"url"`
	Label string `json:"label" yaml:"label"`
}

// State is an immutable overlay snapshot. Values handed out by Store must not be modified.
type State struct {
	Ranking     []RankEntry  `json:"ranking"`
	Alerts      []Alert      `json:"alerts"`
	PaymentLink *PaymentLink `json:"payment_link,omitempty"`
}

// IsEmpty reports whether there is nothing to draw.
func (s *State) IsEmpty() bool {
	return s == nil || (len(s.Ranking) == 0 && len(s.Alerts) == 0 && s.PaymentLink == nil)
}

func (s *State) clone() *State {
	if s == nil {
		return &State{}
	}
	out := &State{
		Ranking: slices.Clone(s.Ranking),
		Alerts:  slices.Clone(s.Alerts),
	}
	if s.PaymentLink != nil {
		link := *s.PaymentLink
		out.PaymentLink = &link
	}
	return out
}

// Update carries fresh upstream data. A field whose Has flag is false was not
// read and leaves the current value alone; a present field replaces it, even
// when empty.
type Update struct {
	Ranking        []RankEntry
	HasRanking     bool
	Alerts         []Alert
	HasAlerts      bool
	PaymentLink    *PaymentLink
	HasPaymentLink bool
}

// Empty reports whether the update carries no fields at all.
func (u Update) Empty() bool {
	return !u.HasRanking && !u.HasAlerts && !u.HasPaymentLink
}

// FullUpdate marks every field of s as present.
func FullUpdate(s State) Update {
	return Update{
		Ranking:        s.Ranking,
		HasRanking:     true,
		Alerts:         s.Alerts,
		HasAlerts:      true,
		PaymentLink:    s.PaymentLink,
		HasPaymentLink: true,
	}
}

func (s *State) merge(u Update) *State {
	next := s.clone()
	if u.HasRanking {
		ranking := slices.Clone(u.Ranking)
		slices.SortStableFunc(ranking, func(a, b RankEntry) int { return a.Rank - b.Rank })
		if len(ranking) > MaxRankingEntries {
			ranking = ranking[:MaxRankingEntries]
		}
		next.Ranking = ranking
	}
	if u.HasAlerts {
		next.Alerts = slices.Clone(u.Alerts)
	}
	if u.HasPaymentLink {
		next.PaymentLink = nil
		if u.PaymentLink != nil && u.PaymentLink.URL != "" {
			link := *u.PaymentLink
			next.PaymentLink = &link
		}
	}
	return next
}
