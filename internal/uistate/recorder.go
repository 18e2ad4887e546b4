package uistate

import (
	"context"
	"log/slog"

	"github.com/nuetzliches/sbinspect/internal/activity"
)

// Record subscribes to bus and appends every event to store. The returned
// func stops recording.
func Record(bus activity.Bus, store Store, logger *slog.Logger) (func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	return bus.Subscribe(func(e activity.Event) {
		if err := store.AppendActivity(context.Background(), e); err != nil {
			logger.Warn("activity_record_failed",
				slog.String("kind", string(e.Kind)),
				slog.Any("err", err),
			)
		}
	})
}
