package pollsws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/savaki/ddb"
	"github.com/tj/assert"

	"github.com/elmerjani/polls-app-backend/polls"
	"github.com/elmerjani/polls-app-backend/polls-ws/connectiondao"
	"github.com/elmerjani/polls-app-backend/voting"
	"github.com/elmerjani/polls-app-backend/voting/optiondao"
	"github.com/elmerjani/polls-app-backend/voting/polldao"
	"github.com/elmerjani/polls-app-backend/voting/votedao"
)

const testEndpoint = "https://example.com/dev"

func withCoordinator(t *testing.T, callback func(ctx context.Context, c *Coordinator, fake *fakeManagementAPI)) {
	var (
		s = session.Must(session.NewSession(aws.NewConfig().
			WithCredentials(credentials.NewStaticCredentials("blah", "blah", "")).
			WithEndpoint("http://localhost:8000").
			WithRegion("us-west-2")))
		api       = dynamodb.New(s)
		nonce     = time.Now().UnixNano()
		pollDAO   = polldao.New(api, fmt.Sprintf("polls-%v", nonce))
		optionDAO = optiondao.New(api, fmt.Sprintf("options-%v", nonce))
		voteDAO   = votedao.New(api, fmt.Sprintf("votes-%v", nonce))
		connDAO   = connectiondao.New(api, fmt.Sprintf("connections-%v", nonce))
		fake      = newFakeManagementAPI()
	)

	c := &Coordinator{
		Ledger:      &voting.Ledger{Client: ddb.New(api), Polls: pollDAO, Options: optionDAO, Votes: voteDAO},
		Tally:       &voting.Tally{Polls: pollDAO, Options: optionDAO},
		Connections: connDAO,
		Dispatcher:  fakeDispatcher(fake),
		Logger:      zerolog.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Nil(t, pollDAO.CreateTable(ctx))
	defer pollDAO.DeleteTable(ctx)
	assert.Nil(t, optionDAO.CreateTable(ctx))
	defer optionDAO.DeleteTable(ctx)
	assert.Nil(t, voteDAO.CreateTable(ctx))
	defer voteDAO.DeleteTable(ctx)
	assert.Nil(t, connDAO.CreateTable(ctx))
	defer connDAO.DeleteTable(ctx)

	callback(ctx, c, fake)
}

func seedPizzaPoll(t *testing.T, ctx context.Context, c *Coordinator) {
	err := c.Ledger.Polls.Put(ctx, polldao.Poll{
		ID:        "poll-1",
		Question:  "Pizza?",
		Owner:     polls.Identity{ID: "owner", DisplayName: "Owner"},
		CreatedAt: time.Now().UnixMilli(),
	})
	assert.Nil(t, err)
	assert.Nil(t, c.Ledger.Options.PutAll(ctx, []optiondao.Option{
		{PollID: "poll-1", Ordinal: 1, Text: "Yes"},
		{PollID: "poll-1", Ordinal: 2, Text: "No"},
	}))
}

func register(t *testing.T, ctx context.Context, c *Coordinator, connID, userID, name string) {
	err := c.Connections.Put(ctx, connectiondao.Connection{
		ConnectionID: connID,
		Identity:     polls.Identity{ID: userID, DisplayName: name},
		Endpoint:     testEndpoint,
		ConnectedAt:  time.Now().Unix(),
		TTL:          time.Now().Add(2 * time.Hour).Unix(),
	})
	assert.Nil(t, err)
}

func lastTally(t *testing.T, fake *fakeManagementAPI, connID string) TallyPayload {
	frames := fake.received(connID)
	assert.NotEmpty(t, frames)

	var payload TallyPayload
	assert.Nil(t, json.Unmarshal(frames[len(frames)-1], &payload))
	return payload
}

func TestHandleVote(t *testing.T) {
	withCoordinator(t, func(ctx context.Context, c *Coordinator, fake *fakeManagementAPI) {
		seedPizzaPoll(t, ctx, c)
		register(t, ctx, c, "conn-alice", "alice", "Alice")
		register(t, ctx, c, "conn-bob", "bob", "Bob")

		// first vote reaches every listener, stamped with the commit time of
		// the vote record
		//
		err := c.HandleVote(ctx, testEndpoint, "conn-alice", &Message{Action: ActionVote, PollID: "poll-1", OptionID: 1})
		assert.Nil(t, err)

		stored, err := c.Ledger.Votes.Get(ctx, "poll-1", "alice")
		assert.Nil(t, err)

		for _, connID := range []string{"conn-alice", "conn-bob"} {
			payload := lastTally(t, fake, connID)
			assert.Equal(t, TypeTally, payload.Type)
			assert.Equal(t, "poll-1", payload.PollID)
			assert.Equal(t, []voting.OptionCount{
				{ID: 1, Text: "Yes", VotesCount: 1},
				{ID: 2, Text: "No", VotesCount: 0},
			}, payload.Options)
			assert.Equal(t, "alice", payload.Voter.ID)
			assert.Equal(t, "Alice", payload.Voter.DisplayName)
			assert.Equal(t, stored.CreatedAt, payload.VotedAt)
		}

		// revote swaps both counters in the broadcast snapshot
		//
		err = c.HandleVote(ctx, testEndpoint, "conn-alice", &Message{Action: ActionVote, PollID: "poll-1", OptionID: 2})
		assert.Nil(t, err)

		payload := lastTally(t, fake, "conn-bob")
		assert.Equal(t, []voting.OptionCount{
			{ID: 1, Text: "Yes", VotesCount: 0},
			{ID: 2, Text: "No", VotesCount: 1},
		}, payload.Options)

		stored, err = c.Ledger.Votes.Get(ctx, "poll-1", "alice")
		assert.Nil(t, err)
		assert.Equal(t, stored.CreatedAt, payload.VotedAt)
		revotedAt := payload.VotedAt

		// resubmitting the current choice answers the voter only, repeating
		// the original vote time rather than stamping a new one
		//
		bobFrames := len(fake.received("conn-bob"))
		aliceFrames := len(fake.received("conn-alice"))

		err = c.HandleVote(ctx, testEndpoint, "conn-alice", &Message{Action: ActionVote, PollID: "poll-1", OptionID: 2})
		assert.Nil(t, err)

		assert.Len(t, fake.received("conn-bob"), bobFrames)
		assert.Len(t, fake.received("conn-alice"), aliceFrames+1)
		payload = lastTally(t, fake, "conn-alice")
		assert.Equal(t, []voting.OptionCount{
			{ID: 1, Text: "Yes", VotesCount: 0},
			{ID: 2, Text: "No", VotesCount: 1},
		}, payload.Options)
		assert.Equal(t, revotedAt, payload.VotedAt)
	})
}

func TestHandleVoteRejections(t *testing.T) {
	withCoordinator(t, func(ctx context.Context, c *Coordinator, fake *fakeManagementAPI) {
		seedPizzaPoll(t, ctx, c)
		register(t, ctx, c, "conn-alice", "alice", "Alice")
		register(t, ctx, c, "conn-bob", "bob", "Bob")

		t.Run("invalid option answers the originator only", func(t *testing.T) {
			err := c.HandleVote(ctx, testEndpoint, "conn-alice", &Message{Action: ActionVote, PollID: "poll-1", OptionID: 99})
			assert.Nil(t, err)

			assert.Len(t, fake.received("conn-bob"), 0)
			frames := fake.received("conn-alice")
			assert.Len(t, frames, 1)

			var reply ErrorPayload
			assert.Nil(t, json.Unmarshal(frames[0], &reply))
			assert.Equal(t, TypeError, reply.Type)
			assert.Equal(t, CodeInvalidOption, reply.Code)

			// counters untouched
			counts, err := c.Tally.GetTally(ctx, "poll-1")
			assert.Nil(t, err)
			for _, count := range counts {
				assert.EqualValues(t, 0, count.VotesCount)
			}
		})

		t.Run("unknown poll", func(t *testing.T) {
			err := c.HandleVote(ctx, testEndpoint, "conn-alice", &Message{Action: ActionVote, PollID: "no-such-poll", OptionID: 1})
			assert.Nil(t, err)

			frames := fake.received("conn-alice")
			var reply ErrorPayload
			assert.Nil(t, json.Unmarshal(frames[len(frames)-1], &reply))
			assert.Equal(t, CodePollNotFound, reply.Code)
		})

		t.Run("unregistered connection is dropped silently", func(t *testing.T) {
			err := c.HandleVote(ctx, testEndpoint, "conn-ghost", &Message{Action: ActionVote, PollID: "poll-1", OptionID: 1})
			assert.Nil(t, err)

			assert.Len(t, fake.received("conn-ghost"), 0)
			assert.Len(t, fake.received("conn-bob"), 0)
		})
	})
}

func TestHandleVotePrunesDeadConnections(t *testing.T) {
	withCoordinator(t, func(ctx context.Context, c *Coordinator, fake *fakeManagementAPI) {
		seedPizzaPoll(t, ctx, c)
		register(t, ctx, c, "conn-alice", "alice", "Alice")
		register(t, ctx, c, "conn-bob", "bob", "Bob")
		register(t, ctx, c, "conn-dead", "carol", "Carol")
		fake.fail["conn-dead"] = awserr.New("GoneException", "connection is gone", nil)

		err := c.HandleVote(ctx, testEndpoint, "conn-alice", &Message{Action: ActionVote, PollID: "poll-1", OptionID: 1})
		assert.Nil(t, err)

		// live listeners still got the snapshot
		assert.Len(t, fake.received("conn-alice"), 1)
		assert.Len(t, fake.received("conn-bob"), 1)

		// the dead connection was pruned from the registry
		_, err = c.Connections.Resolve(ctx, "conn-dead")
		assert.True(t, errors.Is(err, connectiondao.ErrUnknownConnection))

		active, err := c.Connections.ListActive(ctx)
		assert.Nil(t, err)
		assert.Len(t, active, 2)
	})
}

func TestHandleTallyQuery(t *testing.T) {
	withCoordinator(t, func(ctx context.Context, c *Coordinator, fake *fakeManagementAPI) {
		seedPizzaPoll(t, ctx, c)
		register(t, ctx, c, "conn-alice", "alice", "Alice")
		register(t, ctx, c, "conn-bob", "bob", "Bob")

		assert.Nil(t, c.HandleVote(ctx, testEndpoint, "conn-bob", &Message{Action: ActionVote, PollID: "poll-1", OptionID: 2}))

		// the reply goes to the requester only and names no voter
		//
		aliceFrames := len(fake.received("conn-alice"))
		bobFrames := len(fake.received("conn-bob"))

		err := c.HandleTallyQuery(ctx, testEndpoint, "conn-alice", "poll-1")
		assert.Nil(t, err)

		assert.Len(t, fake.received("conn-bob"), bobFrames)
		assert.Len(t, fake.received("conn-alice"), aliceFrames+1)

		payload := lastTally(t, fake, "conn-alice")
		assert.Equal(t, TypeTally, payload.Type)
		assert.Nil(t, payload.Voter)
		assert.Equal(t, []voting.OptionCount{
			{ID: 1, Text: "Yes", VotesCount: 0},
			{ID: 2, Text: "No", VotesCount: 1},
		}, payload.Options)

		t.Run("unknown poll", func(t *testing.T) {
			err := c.HandleTallyQuery(ctx, testEndpoint, "conn-alice", "no-such-poll")
			assert.Nil(t, err)

			frames := fake.received("conn-alice")
			var reply ErrorPayload
			assert.Nil(t, json.Unmarshal(frames[len(frames)-1], &reply))
			assert.Equal(t, CodePollNotFound, reply.Code)
		})
	})
}
