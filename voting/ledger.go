// Package voting is the write and read side of the poll aggregation core: the
// Ledger records one vote per (poll, user) and swaps it atomically on revote;
// the Tally projects the per-option counters for queries and broadcasts.
package voting

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/rs/zerolog"
	"github.com/savaki/ddb"

	"github.com/elmerjani/polls-app-backend/voting/optiondao"
	"github.com/elmerjani/polls-app-backend/voting/polldao"
	"github.com/elmerjani/polls-app-backend/voting/votedao"
)

// castAttempts bounds how often a vote retries after losing a transaction
// race before the error is surfaced as retryable to the client.
const castAttempts = 5

// Ledger enforces the one-active-vote-per-(poll,user) rule. The counter swap
// and the vote overwrite commit in a single store transaction, so concurrent
// revotes on the same poll serialize on the store without any process lock.
type Ledger struct {
	Client  *ddb.DDB
	Polls   *polldao.DAO
	Options *optiondao.DAO
	Votes   *votedao.DAO
}

// BuildLedger creates a Ledger wired to the standard tables for the given
// environment.
func BuildLedger(api dynamodbiface.DynamoDBAPI, env string) *Ledger {
	return &Ledger{
		Client:  ddb.New(api),
		Polls:   polldao.Build(api, env),
		Options: optiondao.Build(api, env),
		Votes:   votedao.Build(api, env),
	}
}

// CastVote records userID's vote for optionID in pollID. It returns the
// committed vote record and the option the user held previously, nil on a
// first vote. Broadcast payloads take their timestamp from the returned
// record's CreatedAt.
//
// Casting the same option again is a no-op: the stored record comes back
// untouched, original timestamp included. Anything else commits one
// transaction holding the previous option's decrement (if any), the new
// option's increment, and the vote overwrite, conditioned on the vote item
// still matching what was read. A lost condition means a concurrent cast got
// there first; the vote is re-read and retried.
func (l *Ledger) CastVote(ctx context.Context, pollID, userID string, optionID int) (vote *votedao.Vote, previous *int, err error) {
	defer func(begin time.Time) {
		zerolog.Ctx(ctx).Info().
			Dur("elapsed", time.Since(begin)).
			Err(err).
			Str("poll_id", pollID).
			Str("user_id", userID).
			Int("option_id", optionID).
			Msg("cast vote")
	}(time.Now())

	if _, err := l.Polls.Get(ctx, pollID); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, nil, fmt.Errorf("poll %v: %w", pollID, ErrPollNotFound)
		}
		return nil, nil, err
	}

	options, err := l.Options.List(ctx, pollID)
	if err != nil {
		return nil, nil, err
	}
	valid := false
	for _, option := range options {
		if option.Ordinal == optionID {
			valid = true
			break
		}
	}
	if !valid {
		return nil, nil, fmt.Errorf("option %v of poll %v: %w", optionID, pollID, ErrInvalidOption)
	}

	for attempt := 0; attempt < castAttempts; attempt++ {
		existing, err := l.readPrevious(ctx, pollID, userID)
		if err != nil {
			return nil, nil, err
		}

		// Idempotent resubmission: same choice, no counter change.
		if existing != nil && existing.OptionID == optionID {
			return existing, &existing.OptionID, nil
		}

		next := votedao.Vote{
			PollID:    pollID,
			UserID:    userID,
			OptionID:  optionID,
			CreatedAt: time.Now().UnixMilli(),
		}

		var txErr error
		if existing != nil {
			_, txErr = l.Client.TransactWriteItemsWithContext(ctx,
				l.Options.Decrement(pollID, existing.OptionID),
				l.Options.Increment(pollID, optionID),
				l.Votes.PutSwap(next, existing.OptionID),
			)
		} else {
			_, txErr = l.Client.TransactWriteItemsWithContext(ctx,
				l.Options.Increment(pollID, optionID),
				l.Votes.PutFirst(next),
			)
		}

		if txErr != nil {
			if isTransactionCanceled(txErr) {
				if err := backoff(ctx, attempt); err != nil {
					return nil, nil, err
				}
				continue
			}
			return nil, nil, fmt.Errorf("failed to commit vote for poll %v, user %v: %w", pollID, userID, txErr)
		}

		if existing != nil {
			return &next, &existing.OptionID, nil
		}
		return &next, nil, nil
	}

	return nil, nil, fmt.Errorf("vote for poll %v, user %v conflicted %v times: %w", pollID, userID, castAttempts, ErrStoreUnavailable)
}

func (l *Ledger) readPrevious(ctx context.Context, pollID, userID string) (*votedao.Vote, error) {
	vote, err := l.Votes.Get(ctx, pollID, userID)
	if err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	return vote, nil
}

func backoff(ctx context.Context, attempt int) error {
	wait := time.Duration(1<<attempt) * 20 * time.Millisecond
	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		return fmt.Errorf("context cancelled while retrying vote: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
