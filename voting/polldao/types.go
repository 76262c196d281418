package polldao

import "github.com/elmerjani/polls-app-backend/polls"

// Poll is the immutable poll metadata item. Options and votes live in their
// own tables, keyed by PollID.
type Poll struct {
	ID        string         `dynamodbav:"id" ddb:"hash"`
	Question  string         `dynamodbav:"question"`
	Owner     polls.Identity `dynamodbav:"owner"`
	CreatedAt int64          `dynamodbav:"created_at"` // unix millis
}
