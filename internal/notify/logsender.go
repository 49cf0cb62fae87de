package notify

import (
	"context"

	logx "crewcall/pkg/logx"
)

// LogSender writes notifications to the structured log instead of a real
// transport. It is the default wiring when a deployment hasn't registered a
// concrete delivery collaborator yet, and doubles as a dry-run mode.
type LogSender struct {
	log     logx.Logger
	channel Channel
}

func NewLogSender(c Channel, log logx.Logger) *LogSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSender{log: log, channel: c}
}

func (l *LogSender) Send(ctx context.Context, userID, title, body string, meta map[string]string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.log.Info("notification",
		logx.String("channel", string(l.channel)),
		logx.String("user", userID),
		logx.String("title", title),
		logx.String("body", body))
	return true, nil
}
