// Package destinations resolves the ingestion URLs the relay delivers to.
//
// The static provider returns the configured list. The redis provider reads a
// set that the provisioning service maintains, falling back to the static list
// whenever redis cannot answer.
package destinations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"overlaycast/internal/config"
	"overlaycast/internal/logging"
	"overlaycast/internal/services"
)

// Provider returns the destinations for one streaming attempt. An empty
// result disables egress for that attempt.
type Provider interface {
	Destinations(ctx context.Context) ([]string, error)
}

// Static is a fixed destination list.
type Static []string

func (s Static) Destinations(context.Context) ([]string, error) {
	return normalize(s), nil
}

// SetReader is the subset of the redis client the provider uses.
type SetReader interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// Redis reads destinations from a redis set.
type Redis struct {
	client   SetReader
	key      string
	fallback Static
	logger   *slog.Logger
}

// NewRedis wraps a client. fallback is used when the read fails.
func NewRedis(client SetReader, key string, fallback []string, logger *slog.Logger) *Redis {
	return &Redis{
		client:   client,
		key:      key,
		fallback: Static(fallback),
		logger:   logging.NewComponentLogger(logger, "destinations"),
	}
}

// Ping checks that redis answers. Clients without PING support are assumed reachable.
func (r *Redis) Ping(ctx context.Context) error {
	pinger, ok := r.client.(interface {
		Ping(ctx context.Context) *redis.StatusCmd
	})
	if !ok {
		return nil
	}
	return pinger.Ping(ctx).Err()
}

func (r *Redis) Destinations(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.WarnWithContext(r.logger, "destination lookup failed; using configured destinations", "destinations_fallback",
			logging.Error(services.Wrap(services.ErrEgressUnavailable, "destinations", "smembers", r.key, err)),
			logging.Int("destinations", len(r.fallback)),
			logging.String(logging.FieldErrorHint, "check egress.redis_url and that redis is reachable"),
		)
		return r.fallback.Destinations(ctx)
	}
	// SMEMBERS order is unspecified; sort so attempts are reproducible.
	sort.Strings(members)
	return normalize(members), nil
}

// FromConfig picks the provider implied by the configuration. The returned
// close function releases any client it created.
func FromConfig(cfg *config.Config, logger *slog.Logger) (Provider, func() error, error) {
	static := Static(cfg.Egress.Destinations)
	url := strings.TrimSpace(cfg.Egress.RedisURL)
	if url == "" {
		return static, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrConfiguration, "destinations", "parse redis url", "", err)
	}
	client := redis.NewClient(opts)
	return NewRedis(client, cfg.Egress.RedisKey, cfg.Egress.Destinations, logger), client.Close, nil
}

func normalize(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// Describe summarizes a provider for status output.
func Describe(p Provider) string {
	switch v := p.(type) {
	case Static:
		return fmt.Sprintf("static (%d)", len(normalize(v)))
	case *Redis:
		return "redis set " + v.key
	default:
		return fmt.Sprintf("%T", p)
	}
}
