package pollsreport

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/rs/zerolog"

	"github.com/elmerjani/polls-app-backend/voting"
	"github.com/elmerjani/polls-app-backend/voting/polldao"
	"github.com/elmerjani/polls-app-backend/voting/votedao"
)

// Report is the exported snapshot of every poll and its current counts.
type Report struct {
	Env         string      `json:"env"`
	GeneratedAt int64       `json:"generatedAt"` // unix millis
	Polls       []PollTally `json:"polls"`
}

type PollTally struct {
	PollID    string               `json:"pollId"`
	Question  string               `json:"question"`
	Options   []voting.OptionCount `json:"options"`
	VoteCount int64                `json:"voteCount"`
}

// NewTallyGenerator returns a GenerateCallback that scans every poll in the
// environment and snapshots its option counters and recorded vote total.
func NewTallyGenerator(api dynamodbiface.DynamoDBAPI, env string) GenerateCallback {
	polls := polldao.Build(api, env)
	tally := voting.BuildTally(api, env)
	votes := votedao.Build(api, env)

	return func(ctx context.Context) (interface{}, error) {
		all, err := polls.Scan(ctx)
		if err != nil {
			return nil, err
		}
		sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt < all[j].CreatedAt })

		report := Report{
			Env:         env,
			GeneratedAt: time.Now().UnixMilli(),
			Polls:       make([]PollTally, 0, len(all)),
		}
		for _, poll := range all {
			counts, err := tally.GetTally(ctx, poll.ID)
			if err != nil {
				// a poll whose options were removed mid-delete shouldn't
				// sink the whole export
				if errors.Is(err, voting.ErrPollNotFound) {
					zerolog.Ctx(ctx).Warn().Str("poll_id", poll.ID).Msg("skipping poll without options")
					continue
				}
				return nil, err
			}
			total, err := votes.CountByPoll(ctx, poll.ID)
			if err != nil {
				return nil, err
			}
			report.Polls = append(report.Polls, PollTally{
				PollID:    poll.ID,
				Question:  poll.Question,
				Options:   counts,
				VoteCount: total,
			})
		}
		return report, nil
	}
}
