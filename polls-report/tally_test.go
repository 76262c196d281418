package pollsreport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/tj/assert"

	"github.com/elmerjani/polls-app-backend/polls"
	"github.com/elmerjani/polls-app-backend/voting"
	"github.com/elmerjani/polls-app-backend/voting/optiondao"
	"github.com/elmerjani/polls-app-backend/voting/polldao"
	"github.com/elmerjani/polls-app-backend/voting/votedao"
)

func withVotingTables(t *testing.T, callback func(ctx context.Context, env string, api *dynamodb.DynamoDB)) {
	var (
		s = session.Must(session.NewSession(aws.NewConfig().
			WithCredentials(credentials.NewStaticCredentials("blah", "blah", "")).
			WithEndpoint("http://localhost:8000").
			WithRegion("us-west-2")))
		api = dynamodb.New(s)
		env = fmt.Sprintf("x%v", time.Now().UnixNano())
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pollDAO := polldao.Build(api, env)
	assert.Nil(t, pollDAO.CreateTable(ctx))
	defer pollDAO.DeleteTable(ctx)

	optionDAO := optiondao.Build(api, env)
	assert.Nil(t, optionDAO.CreateTable(ctx))
	defer optionDAO.DeleteTable(ctx)

	voteDAO := votedao.Build(api, env)
	assert.Nil(t, voteDAO.CreateTable(ctx))
	defer voteDAO.DeleteTable(ctx)

	callback(ctx, env, api)
}

func seedPoll(t *testing.T, ctx context.Context, api *dynamodb.DynamoDB, env, pollID, question string, createdAt int64, texts ...string) {
	err := polldao.Build(api, env).Put(ctx, polldao.Poll{
		ID:        pollID,
		Question:  question,
		Owner:     polls.Identity{ID: "owner", DisplayName: "Owner"},
		CreatedAt: createdAt,
	})
	assert.Nil(t, err)

	options := make([]optiondao.Option, 0, len(texts))
	for i, text := range texts {
		options = append(options, optiondao.Option{
			PollID:  pollID,
			Ordinal: i + 1,
			Text:    text,
		})
	}
	if len(options) > 0 {
		assert.Nil(t, optiondao.Build(api, env).PutAll(ctx, options))
	}
}

func TestTallyGenerator(t *testing.T) {
	withVotingTables(t, func(ctx context.Context, env string, api *dynamodb.DynamoDB) {
		seedPoll(t, ctx, api, env, "poll-b", "Tabs or spaces?", 2000, "Tabs", "Spaces")
		seedPoll(t, ctx, api, env, "poll-a", "Pizza?", 1000, "Yes", "No")
		seedPoll(t, ctx, api, env, "poll-broken", "No options", 3000)

		ledger := voting.BuildLedger(api, env)
		_, _, err := ledger.CastVote(ctx, "poll-a", "alice", 1)
		assert.Nil(t, err)
		_, _, err = ledger.CastVote(ctx, "poll-a", "bob", 2)
		assert.Nil(t, err)
		_, _, err = ledger.CastVote(ctx, "poll-a", "carol", 1)
		assert.Nil(t, err)
		_, _, err = ledger.CastVote(ctx, "poll-b", "alice", 2)
		assert.Nil(t, err)

		generate := NewTallyGenerator(api, env)
		logger := zerolog.Nop()
		out, err := generate(logger.WithContext(ctx))
		assert.Nil(t, err)

		report, ok := out.(Report)
		assert.True(t, ok)
		assert.Equal(t, env, report.Env)
		assert.True(t, report.GeneratedAt > 0)

		// oldest poll first; the option-less poll is skipped, not fatal
		assert.Len(t, report.Polls, 2)
		assert.Equal(t, "poll-a", report.Polls[0].PollID)
		assert.Equal(t, "poll-b", report.Polls[1].PollID)

		pizza := report.Polls[0]
		assert.Equal(t, "Pizza?", pizza.Question)
		assert.EqualValues(t, 3, pizza.VoteCount)
		assert.Equal(t, []voting.OptionCount{
			{ID: 1, Text: "Yes", VotesCount: 2},
			{ID: 2, Text: "No", VotesCount: 1},
		}, pizza.Options)

		tabs := report.Polls[1]
		assert.EqualValues(t, 1, tabs.VoteCount)
		assert.EqualValues(t, 0, tabs.Options[0].VotesCount)
		assert.EqualValues(t, 1, tabs.Options[1].VotesCount)
	})
}

func TestReportKey(t *testing.T) {
	timestamp := time.Date(2023, 11, 4, 9, 30, 15, 0, time.UTC)
	assert.Equal(t, "polls-app/tally/2023-11-04/09/2023-11-04-09:30:15.json", ReportKey("polls-app", "tally", timestamp))
	assert.Equal(t, "polls-app/tally/latest.json", LatestKey("polls-app", "tally"))
}
