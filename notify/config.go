package notify

import (
	"go.uber.org/zap"

	"github.com/teranos/windturbine/am"
)

// FromConfig builds the SMTP sender described by cfg, throttled to
// cfg.MaxPerMinute.
func FromConfig(cfg am.NotifyConfig, log *zap.SugaredLogger) Sender {
	smtpSender := &SMTPSender{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.From,
		Username: cfg.Username,
		Password: cfg.Password,
		Log:      log,
	}
	return NewThrottle(smtpSender, cfg.MaxPerMinute)
}
