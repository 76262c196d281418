package pollsws

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	pollscli "github.com/elmerjani/polls-app-backend/polls-cli"
	"github.com/elmerjani/polls-app-backend/polls-ws/connectiondao"
	"github.com/elmerjani/polls-app-backend/voting"
)

// Coordinator sequences a single incoming vote across the ledger, the tally,
// the connection registry and the dispatcher. It is the only place that calls
// more than one of them; errors stop here, reported to the originator at most,
// never broadcast and never fatal to the process.
type Coordinator struct {
	Ledger      *voting.Ledger
	Tally       *voting.Tally
	Connections *connectiondao.DAO
	Dispatcher  *Dispatcher
	Metrics     pollscli.Metrics
	Logger      zerolog.Logger
}

// HandleVote records one vote and fans the refreshed tally out to every
// registered connection. The returned error covers unexpected store trouble
// only; validation failures are answered on the originating socket and
// swallowed here.
func (c *Coordinator) HandleVote(ctx context.Context, endpoint, connectionID string, msg *Message) error {
	begin := time.Now()
	logger := c.Logger.With().
		Str("connection_id", connectionID).
		Str("poll_id", msg.PollID).
		Int("option_id", msg.OptionID).
		Logger()
	ctx = logger.WithContext(ctx)

	conn, err := c.Connections.Resolve(ctx, connectionID)
	if err != nil {
		if errors.Is(err, connectiondao.ErrUnknownConnection) {
			logger.Warn().Msg("vote from unregistered connection dropped")
			return nil
		}
		c.reply(ctx, endpoint, connectionID, ErrorMessage(CodeStoreUnavailable, "vote not recorded, retry"))
		return err
	}

	vote, previous, err := c.Ledger.CastVote(ctx, msg.PollID, conn.Identity.ID, msg.OptionID)
	if err != nil {
		c.reply(ctx, endpoint, connectionID, voteErrorFrame(err))
		switch {
		case errors.Is(err, voting.ErrPollNotFound), errors.Is(err, voting.ErrInvalidOption):
			logger.Warn().Err(err).Msg("vote rejected")
			return nil
		case voting.IsStoreUnavailable(err):
			logger.Warn().Err(err).Msg("vote not committed, store unavailable")
			return nil
		default:
			return err
		}
	}

	counts, err := c.Tally.GetTally(ctx, msg.PollID)
	if err != nil {
		logger.Error().Err(err).Msg("tally read failed after commit")
		c.reply(ctx, endpoint, connectionID, ErrorMessage(CodeInternal, "internal error"))
		return err
	}

	// The frame carries the commit time of the vote record, not delivery time;
	// a resubmitted vote keeps its original timestamp.
	frame, err := TallyMessage(msg.PollID, counts, &conn.Identity, vote.CreatedAt)
	if err != nil {
		return err
	}

	// Resubmitting the current choice changes nothing, so nobody else needs
	// to hear about it. The voter still gets the snapshot back.
	if previous != nil && *previous == msg.OptionID {
		c.reply(ctx, endpoint, connectionID, frame)
		logger.Info().Msg("idempotent resubmission, no broadcast")
		return nil
	}

	conns, err := c.Connections.ListActive(ctx)
	if err != nil {
		// The vote is committed either way. Deliver to the voter at least;
		// the next vote carries the materialized tally to everyone.
		logger.Error().Err(err).Msg("listing connections failed, replying to voter only")
		c.reply(ctx, endpoint, connectionID, frame)
		return err
	}

	result := c.Dispatcher.Broadcast(ctx, frame, conns)

	for _, id := range result.Failed {
		if err := c.Connections.Delete(ctx, id); err != nil {
			logger.Warn().Err(err).Str("connection_id", id).Msg("failed to prune connection")
		}
	}

	c.Metrics.Event(ctx, pollscli.VotesCastMetric, map[pollscli.DimensionName]string{pollscli.PollDimension: msg.PollID})
	c.Metrics.Gauge(ctx, pollscli.BroadcastFanoutMetric, float64(len(conns)))
	if len(result.Failed) > 0 {
		c.Metrics.Gauge(ctx, pollscli.FailedDeliveriesMetric, float64(len(result.Failed)))
	}
	c.Metrics.Timing(ctx, pollscli.VoteLatencyMetric, begin)

	logger.Info().
		Int("delivered", result.Delivered).
		Int("failed", len(result.Failed)).
		Dur("elapsed", time.Since(begin)).
		Msg("vote broadcast")

	return nil
}

// HandleTallyQuery answers the current tally directly to the requesting
// connection. No broadcast, no side effects.
func (c *Coordinator) HandleTallyQuery(ctx context.Context, endpoint, connectionID, pollID string) error {
	logger := c.Logger.With().
		Str("connection_id", connectionID).
		Str("poll_id", pollID).
		Logger()
	ctx = logger.WithContext(ctx)

	counts, err := c.Tally.GetTally(ctx, pollID)
	if err != nil {
		if errors.Is(err, voting.ErrPollNotFound) {
			c.reply(ctx, endpoint, connectionID, ErrorMessage(CodePollNotFound, err.Error()))
			return nil
		}
		c.reply(ctx, endpoint, connectionID, ErrorMessage(CodeStoreUnavailable, "tally unavailable, retry"))
		return err
	}

	frame, err := TallyMessage(pollID, counts, nil, 0)
	if err != nil {
		return err
	}
	c.reply(ctx, endpoint, connectionID, frame)
	return nil
}

func (c *Coordinator) reply(ctx context.Context, endpoint, connectionID string, frame []byte) {
	if err := c.Dispatcher.Send(ctx, endpoint, connectionID, frame); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("connection_id", connectionID).
			Msg("failed to reply")
	}
}

func voteErrorFrame(err error) []byte {
	switch {
	case errors.Is(err, voting.ErrPollNotFound):
		return ErrorMessage(CodePollNotFound, err.Error())
	case errors.Is(err, voting.ErrInvalidOption):
		return ErrorMessage(CodeInvalidOption, err.Error())
	case voting.IsStoreUnavailable(err):
		return ErrorMessage(CodeStoreUnavailable, "vote not recorded, retry")
	default:
		return ErrorMessage(CodeInternal, "internal error")
	}
}
