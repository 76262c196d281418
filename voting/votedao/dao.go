package votedao

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the votes table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new votes DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Vote{}),
		api:       api,
		tableName: tableName,
	}
}

// Get retrieves the vote a user currently holds in a poll. Absence surfaces
// as an item-not-found error detectable with ddb.IsItemNotFoundError. The
// read is strongly consistent; the swap transaction is built from it.
func (d *DAO) Get(ctx context.Context, pollID, userID string) (*Vote, error) {
	var vote Vote
	get := d.table.Get(pollID).Range(userID).
		ConsistentRead(true)
	if err := get.ScanWithContext(ctx, &vote); err != nil {
		return nil, fmt.Errorf("failed to get vote for poll %v, user %v: %w", pollID, userID, err)
	}
	return &vote, nil
}

// PutFirst builds the write for a user's first vote in a poll. The condition
// fails if any vote item appeared since the read, which cancels the enclosing
// transaction and forces a re-read.
func (d *DAO) PutFirst(vote Vote) *ddb.Put {
	return d.table.Put(vote).
		Condition("attribute_not_exists(#PollID)")
}

// PutSwap builds the overwrite for a revote. The condition pins the item to
// the previous choice, serializing concurrent revotes by the same user.
func (d *DAO) PutSwap(vote Vote, previousOptionID int) *ddb.Put {
	return d.table.Put(vote).
		Condition("#OptionID = ?", previousOptionID)
}

// CountByPoll returns the number of vote items in a poll's partition.
func (d *DAO) CountByPoll(ctx context.Context, pollID string) (int64, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("poll_id = :poll_id"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":poll_id": {S: aws.String(pollID)},
		},
		Select: aws.String("COUNT"),
	}

	output, err := d.api.QueryWithContext(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes for poll %v: %w", pollID, err)
	}

	return *output.Count, nil
}

// CreateTable creates the backing table if missing. Test and local-dev helper.
func (d *DAO) CreateTable(ctx context.Context) error {
	return d.table.CreateTableIfNotExists(ctx)
}

// DeleteTable drops the backing table. Test helper.
func (d *DAO) DeleteTable(ctx context.Context) error {
	return d.table.DeleteTableIfExists(ctx)
}
