package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/GunzViruz/telegpt/internal/chatrelay"
	"github.com/GunzViruz/telegpt/internal/metrics"
)

// Handler answers one inbound message. *chatrelay.Relay implements it.
type Handler interface {
	Handle(ctx context.Context, in chatrelay.Inbound) (chatrelay.Reply, error)
}

type Dependencies struct {
	Logger     func() (*slog.Logger, error)
	Handler    Handler
	Metrics    *metrics.Metrics
	HTTPClient *http.Client
}

func loggerFromDeps(d Dependencies) (*slog.Logger, error) {
	if d.Logger == nil {
		return nil, fmt.Errorf("Logger dependency missing")
	}
	return d.Logger()
}
