// Package pollscron provides the shell for scheduled Lambda functions.
package pollscron

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"

	pollscli "github.com/elmerjani/polls-app-backend/polls-cli"
)

type RunCallback func(ctx context.Context) error

type Handler struct {
	service pollscli.Service
	logger  zerolog.Logger

	runOnce RunCallback
}

func NewHandler(
	service pollscli.Service,
	runOnce RunCallback,
) *Handler {
	return &Handler{
		service: service,
		logger:  pollscli.Logger(service),
		runOnce: runOnce,
	}
}

func (h *Handler) RunOnce(ctx context.Context, _ json.RawMessage) (err error) {
	defer func(begin time.Time) {
		h.logger.Info().
			Dur("elapsed", time.Since(begin)).
			Err(err).
			Msg("scheduled task finished")
	}(time.Now())

	ctx = h.logger.WithContext(ctx)
	return h.runOnce(ctx)
}

func (h *Handler) Start() error {
	switch {
	case pollscli.CommonOpts.Console:
		return h.RunOnce(context.Background(), nil)

	default:
		lambda.Start(h.RunOnce)
	}
	return nil
}
