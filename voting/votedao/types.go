package votedao

// Vote records a user's current choice in a poll. At most one item exists per
// (poll, user); a revote overwrites it, so CreatedAt is the time of the last
// change, not the first.
type Vote struct {
	PollID    string `dynamodbav:"poll_id" ddb:"hash"`
	UserID    string `dynamodbav:"user_id" ddb:"range"`
	OptionID  int    `dynamodbav:"option_id"`
	CreatedAt int64  `dynamodbav:"created_at"` // unix millis
}
