package polldao

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the polls table. Poll creation and deletion belong to
// the CRUD surface; they live here so tests and seeding tools share one path.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new polls DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Poll{}),
		api:       api,
		tableName: tableName,
	}
}

// Put stores a poll item.
func (d *DAO) Put(ctx context.Context, poll Poll) error {
	return d.table.Put(poll).RunWithContext(ctx)
}

// Get retrieves a poll by id. Absence surfaces as an item-not-found error the
// caller can detect with ddb.IsItemNotFoundError.
func (d *DAO) Get(ctx context.Context, pollID string) (*Poll, error) {
	var poll Poll
	if err := d.table.Get(pollID).ScanWithContext(ctx, &poll); err != nil {
		return nil, fmt.Errorf("failed to get poll %v: %w", pollID, err)
	}
	return &poll, nil
}

// Delete removes a poll item by id.
func (d *DAO) Delete(ctx context.Context, pollID string) error {
	return d.table.Delete(pollID).RunWithContext(ctx)
}

// Scan walks every poll item. Used only by the offline tally report; nothing
// correctness-critical reads the table this way.
func (d *DAO) Scan(ctx context.Context) ([]Poll, error) {
	var all []Poll
	var unmarshalErr error
	input := &dynamodb.ScanInput{
		TableName: aws.String(d.tableName),
	}
	err := d.api.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, _ bool) bool {
		var polls []Poll
		if unmarshalErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &polls); unmarshalErr != nil {
			return false
		}
		all = append(all, polls...)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan polls: %w", err)
	}
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal polls: %w", unmarshalErr)
	}
	return all, nil
}

// CreateTable creates the backing table if missing. Test and local-dev helper.
func (d *DAO) CreateTable(ctx context.Context) error {
	return d.table.CreateTableIfNotExists(ctx)
}

// DeleteTable drops the backing table. Test helper.
func (d *DAO) DeleteTable(ctx context.Context) error {
	return d.table.DeleteTableIfExists(ctx)
}
