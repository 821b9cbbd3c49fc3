package notify

import (
	"context"
	"log/slog"

	"familycall-platform/internal/family"
)

// LogPusher records pushes in the log instead of delivering them. Used until
// the APNs/FCM transport is wired, and in development environments.
type LogPusher struct {
	log *slog.Logger
}

func NewLogPusher(log *slog.Logger) *LogPusher {
	if log == nil {
		log = slog.Default()
	}
	return &LogPusher{log: log}
}

func (p *LogPusher) Push(_ context.Context, device family.Device, payload Payload) error {
	p.log.Info("push",
		"device_id", device.ID,
		"platform", device.Platform,
		"tag", payload.Tag,
		"title", payload.Title,
		"session_id", payload.Data.SessionID,
	)
	return nil
}
