package notifier

import (
	"context"
	"fmt"
	"time"

	"biopatrol/internal/async"
	"biopatrol/internal/logging"
)

// Notifier is the interface the engine depends on (consumed): notify(text)
// best-effort fire-and-forget, no back-pressure. Notify returns
// immediately; delivery happens on a background goroutine and any failure
// is only logged, never propagated to the caller.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// centerNotifier adapts a Center into the fire-and-forget Notifier shape.
type centerNotifier struct {
	center   *Center
	priority NotificationPriority
	logger   logging.Logger
}

// New wraps center as a best-effort Notifier. Every call to Notify is
// delivered as a PriorityNormal notification to the center's default
// channel; delivery runs asynchronously so a slow or unavailable channel
// never blocks the caller.
func New(center *Center, logger logging.Logger) Notifier {
	return &centerNotifier{center: center, priority: PriorityNormal, logger: logging.OrNop(logger)}
}

func (n *centerNotifier) Notify(ctx context.Context, text string) {
	notification := Notification{
		Title:     "biopatrol",
		Body:      text,
		Priority:  n.priority,
		CreatedAt: time.Now().UTC(),
	}

	async.Go(loggerAdapter{n.logger}, "notifier.notify", func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if result, err := n.center.Send(sendCtx, notification); err != nil {
			n.logger.Warn("notifier: send failed: %v", err)
		} else if result.Status != StatusDelivered {
			n.logger.Warn("notifier: delivery to %s failed: %s", result.Channel, result.Error)
		}
	})
}

type loggerAdapter struct{ logging.Logger }

func (l loggerAdapter) Error(format string, args ...any) { l.Logger.Error(format, args...) }

// TaskSummary builds the "completed X of Y beds" text every terminal task
// state sends to the Notifier (§7 user-visible behavior).
func TaskSummary(taskID string, completedBeds, totalBeds int, status string) string {
	return fmt.Sprintf("task %s %s: completed %d of %d beds", taskID, status, completedBeds, totalBeds)
}

// Nop returns a Notifier that discards every notification, used when no
// notification channel is configured.
func Nop() Notifier { return nopNotifier{} }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) {}
