package connectiondao

import "github.com/elmerjani/polls-app-backend/polls"

// Connection represents a live WebSocket session stored in DynamoDB. The
// identity is resolved once at $connect and trusted for every message the
// connection sends afterwards.
type Connection struct {
	ConnectionID string         `dynamodbav:"pk" ddb:"hash"`
	Identity     polls.Identity `dynamodbav:"identity"`
	Endpoint     string         `dynamodbav:"endpoint"`
	ConnectedAt  int64          `dynamodbav:"connected_at"`
	TTL          int64          `dynamodbav:"ttl"`
}
