package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tallypay/authcore/internal/util"
)

// LogNotifier writes messages to the application log instead of delivering
// them. Codes are masked.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	logger := log.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}

	event := logger.Info().
		Str("notification", string(msg.Kind)).
		Str("to", msg.To).
		Str("subject", msg.Subject)
	if code, ok := msg.Data[DataCode]; ok {
		event = event.Str("code", util.MaskCode(code))
	}
	if id, ok := msg.Data[DataIdentifier]; ok {
		event = event.Str("identifier", id)
	}
	event.Msg("notification (log delivery)")
	return nil
}
