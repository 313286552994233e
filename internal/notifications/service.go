package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"overlaycast/internal/config"
)

const userAgent = "overlaycast/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventStreamStarted     Event = "stream_started"
	EventStreamStopped     Event = "stream_stopped"
	EventSourceLost        Event = "source_lost"
	EventSourceRecovered   Event = "source_recovered"
	EventEgressUnavailable Event = "egress_unavailable"
	EventError             Event = "error"
	EventTest              Event = "test"
)

// Payload carries event fields. Keys used by the formatter: source,
// destinations, resolution, destination, reason, context, error, duration.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		toggles:  cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	toggles  config.Notifications
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if !n.enabled(event) {
		return nil
	}
	msg, ok := format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventStreamStarted, EventStreamStopped:
		return n.toggles.StreamStarted
	case EventSourceLost, EventSourceRecovered:
		return n.toggles.SourceLost
	case EventEgressUnavailable:
		return n.toggles.Egress
	case EventError:
		return n.toggles.Errors
	case EventTest:
		return true
	default:
		return false
	}
}

func format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventStreamStarted:
		message := fmt.Sprintf("🔴 Live: %s", fallback(data.str("source"), "stream"))
		if res := data.str("resolution"); res != "" {
			message += " (" + res + ")"
		}
		if dest := data.str("destinations"); dest != "" {
			message += "\nDestinations: " + dest
		}
		return payload{
			title:   "overlaycast - Stream Started",
			message: message,
			tags:    []string{"overlaycast", "stream", "started"},
		}, true
	case EventStreamStopped:
		message := "⏹️ Stream stopped"
		if reason := data.str("reason"); reason != "" {
			message += ": " + reason
		}
		if d := data.str("duration"); d != "" {
			message += "\nUptime: " + d
		}
		return payload{
			title:   "overlaycast - Stream Stopped",
			message: message,
			tags:    []string{"overlaycast", "stream", "stopped"},
		}, true
	case EventSourceLost:
		message := fmt.Sprintf("⚠️ Source lost: %s", fallback(data.str("source"), "input"))
		if errText := data.str("error"); errText != "" {
			message += "\n" + errText
		}
		return payload{
			title:    "overlaycast - Source Lost",
			message:  message,
			tags:     []string{"overlaycast", "source", "lost"},
			priority: "high",
		}, true
	case EventSourceRecovered:
		return payload{
			title:   "overlaycast - Source Recovered",
			message: fmt.Sprintf("✅ Source back: %s", fallback(data.str("source"), "input")),
			tags:    []string{"overlaycast", "source", "recovered"},
		}, true
	case EventEgressUnavailable:
		message := "📡 Egress unavailable"
		if dest := data.str("destination"); dest != "" {
			message += ": " + dest
		}
		if reason := data.str("reason"); reason != "" {
			message += "\n" + reason
		}
		return payload{
			title:   "overlaycast - Egress Unavailable",
			message: message,
			tags:    []string{"overlaycast", "egress", "unavailable"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := data.str("context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		builder.WriteString(fallback(data.str("error"), "unknown"))
		return payload{
			title:    "overlaycast - Error",
			message:  builder.String(),
			tags:     []string{"overlaycast", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "overlaycast - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"overlaycast", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	value, ok := p[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case []string:
		return strings.Join(v, ", ")
	case time.Duration:
		return v.Round(time.Second).String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// Noop returns a service that drops every event.
func Noop() Service { return noopService{} }
