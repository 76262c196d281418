package pollsws

import (
	"encoding/json"
	"fmt"

	"github.com/elmerjani/polls-app-backend/polls"
	"github.com/elmerjani/polls-app-backend/voting"
)

// Client frames are routed by action; server frames are tagged by type.
const (
	ActionVote  = "vote"
	ActionTally = "tally"
	ActionPing  = "ping"
)

const (
	TypeTally = "tally"
	TypeError = "error"
	TypePong  = "pong"
)

// Error codes carried in error frames. store_unavailable is the only one
// worth retrying client-side.
const (
	CodePollNotFound     = "poll_not_found"
	CodeInvalidOption    = "invalid_option"
	CodeStoreUnavailable = "store_unavailable"
	CodeInternal         = "internal"
)

// Message is a single client frame.
type Message struct {
	Action   string `json:"action"`
	PollID   string `json:"pollId,omitempty"`
	OptionID int    `json:"optionId,omitempty"`
}

// ParseMessage parses a client frame from a JSON string.
func ParseMessage(body string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if msg.Action == "" {
		return nil, fmt.Errorf("missing message action")
	}
	return &msg, nil
}

// TallyPayload is the frame every listener receives when a vote lands, and
// also the reply to a tally query. Always a full snapshot, never a delta, so
// frames arriving out of order are harmless.
type TallyPayload struct {
	Type    string               `json:"type"`
	PollID  string               `json:"pollId"`
	Options []voting.OptionCount `json:"options"`
	Voter   *polls.Identity      `json:"voter,omitempty"`
	VotedAt int64                `json:"votedAt,omitempty"`
}

// TallyMessage builds a tally frame. voter is nil on query replies, where no
// vote was cast.
func TallyMessage(pollID string, options []voting.OptionCount, voter *polls.Identity, votedAt int64) ([]byte, error) {
	b, err := json.Marshal(TallyPayload{
		Type:    TypeTally,
		PollID:  pollID,
		Options: options,
		Voter:   voter,
		VotedAt: votedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling tally message: %w", err)
	}
	return b, nil
}

// ErrorPayload is the direct reply to a connection whose message failed.
type ErrorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorMessage builds an error frame for the originating connection.
func ErrorMessage(code, message string) []byte {
	b, _ := json.Marshal(ErrorPayload{Type: TypeError, Code: code, Message: message})
	return b
}

// PongMessage returns a pong frame.
func PongMessage() []byte {
	b, _ := json.Marshal(struct {
		Type string `json:"type"`
	}{Type: TypePong})
	return b
}
