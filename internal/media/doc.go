// Package media defines the decoded frame type passed between pipeline stages.
package media
