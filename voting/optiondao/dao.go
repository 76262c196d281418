package optiondao

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the options table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new options DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Option{}),
		api:       api,
		tableName: tableName,
	}
}

// Put stores a single option item.
func (d *DAO) Put(ctx context.Context, option Option) error {
	return d.table.Put(option).RunWithContext(ctx)
}

// PutAll stores a poll's options. Used at poll creation and by tests.
func (d *DAO) PutAll(ctx context.Context, options []Option) error {
	for _, option := range options {
		if err := d.Put(ctx, option); err != nil {
			return fmt.Errorf("failed to put option %v/%v: %w", option.PollID, option.Ordinal, err)
		}
	}
	return nil
}

// List returns a poll's options in ordinal order.
func (d *DAO) List(ctx context.Context, pollID string) ([]Option, error) {
	var options []Option
	err := d.table.Query("#PollID = ?", pollID).
		FindAllWithContext(ctx, &options)
	if err != nil {
		return nil, fmt.Errorf("failed to query options for poll %v: %w", pollID, err)
	}
	return options, nil
}

// Increment builds an op that adds one to an option's counter. Executed only
// as part of the vote-swap transaction.
func (d *DAO) Increment(pollID string, ordinal int) *ddb.Update {
	return d.table.Update(pollID).Range(ordinal).
		Set("#VotesCount = #VotesCount + ?", 1)
}

// Decrement builds an op that subtracts one from an option's counter. The
// floor condition keeps a racing transaction from driving the counter
// negative.
func (d *DAO) Decrement(pollID string, ordinal int) *ddb.Update {
	return d.table.Update(pollID).Range(ordinal).
		Set("#VotesCount = #VotesCount - ?", 1).
		Condition("#VotesCount >= ?", 1)
}

// CreateTable creates the backing table if missing. Test and local-dev helper.
func (d *DAO) CreateTable(ctx context.Context) error {
	return d.table.CreateTableIfNotExists(ctx)
}

// DeleteTable drops the backing table. Test helper.
func (d *DAO) DeleteTable(ctx context.Context) error {
	return d.table.DeleteTableIfExists(ctx)
}
