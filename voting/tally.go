package voting

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"

	"github.com/elmerjani/polls-app-backend/voting/optiondao"
	"github.com/elmerjani/polls-app-backend/voting/polldao"
)

// OptionCount is one row of a poll's tally, in option order.
type OptionCount struct {
	ID         int    `json:"id"`
	Text       string `json:"text"`
	VotesCount int64  `json:"votesCount"`
}

// Tally reads the per-option counters maintained by the Ledger.
type Tally struct {
	Polls   *polldao.DAO
	Options *optiondao.DAO
}

// BuildTally creates a Tally wired to the standard tables for the given
// environment.
func BuildTally(api dynamodbiface.DynamoDBAPI, env string) *Tally {
	return &Tally{
		Polls:   polldao.Build(api, env),
		Options: optiondao.Build(api, env),
	}
}

// GetTally returns the current counts for every option of pollID, ordered by
// option id. The counts come straight from the option counters, so a read
// that races a vote sees either the old or the new total, never a torn one.
func (t *Tally) GetTally(ctx context.Context, pollID string) ([]OptionCount, error) {
	options, err := t.Options.List(ctx, pollID)
	if err != nil {
		return nil, err
	}

	// A poll always has at least two options, so an empty list means the
	// poll itself is gone.
	if len(options) == 0 {
		if _, err := t.Polls.Get(ctx, pollID); err != nil {
			if ddb.IsItemNotFoundError(err) {
				return nil, fmt.Errorf("poll %v: %w", pollID, ErrPollNotFound)
			}
			return nil, err
		}
		return nil, fmt.Errorf("poll %v has no options: %w", pollID, ErrPollNotFound)
	}

	counts := make([]OptionCount, 0, len(options))
	for _, option := range options {
		counts = append(counts, OptionCount{
			ID:         option.Ordinal,
			Text:       option.Text,
			VotesCount: option.VotesCount,
		})
	}
	return counts, nil
}
