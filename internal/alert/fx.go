package alert

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/creditlabs/creditd/internal/config"
)

var Module = fx.Module("alert",
	fx.Provide(NewNotifier),
)

func NewNotifier(cfg config.Config, log *zap.Logger) Notifier {
	if cfg.SlackWebhookURL == "" {
		log.Warn("no slack webhook configured, alerts will be dropped")
		return Nop{}
	}
	return NewSlackNotifier(cfg.SlackWebhookURL)
}
