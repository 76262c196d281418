package optiondao

// Option is one choice of a poll. Ordinal is assigned at creation (1..N) and
// doubles as the option id on the wire. VotesCount is only ever mutated inside
// the vote-swap transaction.
type Option struct {
	PollID     string `dynamodbav:"poll_id" ddb:"hash"`
	Ordinal    int    `dynamodbav:"ordinal" ddb:"range"`
	Text       string `dynamodbav:"text"`
	VotesCount int64  `dynamodbav:"votes_count"`
}
