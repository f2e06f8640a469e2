// Package alerting turns anomaly events and threshold breaches into
// notifications, suppressing repeats within a per-alert cool-down.
package alerting

import (
	"context"

	"github.com/airguard-io/airguard/pkg/airdata"
)

// Alert kinds produced by the evaluator.
const (
	KindAnomaly         = "anomaly"
	KindHealthThreshold = "health_threshold"
)

// Notifier delivers alert notifications through a specific channel type.
type Notifier interface {
	// Notify sends one notification. Implementations own retries and
	// rate limiting for their channel.
	Notify(ctx context.Context, n airdata.Notification) error
	// Type returns the notifier type identifier (e.g., "webhook", "kafka").
	Type() string
}
