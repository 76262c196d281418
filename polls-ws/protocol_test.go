package pollsws

import (
	"encoding/json"
	"testing"

	"github.com/tj/assert"

	"github.com/elmerjani/polls-app-backend/polls"
	"github.com/elmerjani/polls-app-backend/voting"
)

func TestProtocol(t *testing.T) {
	t.Run("ParseMessage vote", func(t *testing.T) {
		msg, err := ParseMessage(`{"action":"vote","pollId":"poll-1","optionId":2}`)
		assert.NoError(t, err)
		assert.Equal(t, ActionVote, msg.Action)
		assert.Equal(t, "poll-1", msg.PollID)
		assert.Equal(t, 2, msg.OptionID)
	})

	t.Run("ParseMessage ping", func(t *testing.T) {
		msg, err := ParseMessage(`{"action":"ping"}`)
		assert.NoError(t, err)
		assert.Equal(t, ActionPing, msg.Action)
	})

	t.Run("ParseMessage missing action", func(t *testing.T) {
		_, err := ParseMessage(`{"pollId":"poll-1"}`)
		assert.Error(t, err)
	})

	t.Run("ParseMessage malformed json", func(t *testing.T) {
		_, err := ParseMessage(`{"action":`)
		assert.Error(t, err)
	})

	t.Run("TallyMessage", func(t *testing.T) {
		data, err := TallyMessage("poll-1", []voting.OptionCount{
			{ID: 1, Text: "Yes", VotesCount: 3},
			{ID: 2, Text: "No", VotesCount: 1},
		}, &polls.Identity{ID: "alice", DisplayName: "Alice"}, 1756100000000)
		assert.NoError(t, err)

		var payload TallyPayload
		assert.NoError(t, json.Unmarshal(data, &payload))
		assert.Equal(t, TypeTally, payload.Type)
		assert.Equal(t, "poll-1", payload.PollID)
		assert.Len(t, payload.Options, 2)
		assert.Equal(t, "alice", payload.Voter.ID)
		assert.EqualValues(t, 1756100000000, payload.VotedAt)
	})

	t.Run("TallyMessage query reply omits voter", func(t *testing.T) {
		data, err := TallyMessage("poll-1", []voting.OptionCount{{ID: 1, Text: "Yes"}}, nil, 0)
		assert.NoError(t, err)

		var raw map[string]json.RawMessage
		assert.NoError(t, json.Unmarshal(data, &raw))
		_, hasVoter := raw["voter"]
		assert.False(t, hasVoter)
		_, hasVotedAt := raw["votedAt"]
		assert.False(t, hasVotedAt)
	})

	t.Run("ErrorMessage", func(t *testing.T) {
		var payload ErrorPayload
		assert.NoError(t, json.Unmarshal(ErrorMessage(CodeInvalidOption, "option 99 of poll poll-1"), &payload))
		assert.Equal(t, TypeError, payload.Type)
		assert.Equal(t, CodeInvalidOption, payload.Code)
	})

	t.Run("PongMessage", func(t *testing.T) {
		assert.JSONEq(t, `{"type":"pong"}`, string(PongMessage()))
	})
}
