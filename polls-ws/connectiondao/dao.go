package connectiondao

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// ErrUnknownConnection reports a connection id with no registry record, e.g.
// a message from a socket that never completed $connect or was already swept.
var ErrUnknownConnection = errors.New("unknown connection")

// DAO provides access to the WebSocket connections table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new connections DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Connection{}),
		api:       api,
		tableName: tableName,
	}
}

// Put stores a connection record. Registering the same connection id twice
// overwrites, which makes the operation idempotent.
func (d *DAO) Put(ctx context.Context, conn Connection) error {
	return d.table.Put(conn).RunWithContext(ctx)
}

// Resolve returns the connection record for the given id, or
// ErrUnknownConnection if none is registered.
func (d *DAO) Resolve(ctx context.Context, connectionID string) (*Connection, error) {
	var conn Connection
	if err := d.table.Get(connectionID).ScanWithContext(ctx, &conn); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, fmt.Errorf("connection %v: %w", connectionID, ErrUnknownConnection)
		}
		return nil, fmt.Errorf("failed to resolve connection %v: %w", connectionID, err)
	}
	return &conn, nil
}

// Delete removes a connection record by id. Deleting an absent record is a
// no-op, so disconnects without a matching connect are harmless.
func (d *DAO) Delete(ctx context.Context, connectionID string) error {
	return d.table.Delete(connectionID).RunWithContext(ctx)
}

// ListActive returns a snapshot of every registered connection. The snapshot
// is not authoritative: a connection may die between the scan and a delivery
// attempt, which the dispatcher tolerates per recipient.
func (d *DAO) ListActive(ctx context.Context) ([]Connection, error) {
	var all []Connection
	var unmarshalErr error
	input := &dynamodb.ScanInput{
		TableName: aws.String(d.tableName),
	}
	err := d.api.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, _ bool) bool {
		var conns []Connection
		if unmarshalErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &conns); unmarshalErr != nil {
			return false
		}
		all = append(all, conns...)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan connections: %w", err)
	}
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal connections: %w", unmarshalErr)
	}
	return all, nil
}

// DeleteStale removes every connection whose TTL passed before the given
// time and returns how many were removed. Covers records leaked by crashed
// handlers or delayed DynamoDB TTL reaping; cleanup here is advisory, a
// leftover record only wastes a delivery attempt.
func (d *DAO) DeleteStale(ctx context.Context, before time.Time) (int, error) {
	var stale []Connection
	var unmarshalErr error
	input := &dynamodb.ScanInput{
		TableName:                aws.String(d.tableName),
		FilterExpression:         aws.String("#ttl < :before"),
		ExpressionAttributeNames: map[string]*string{"#ttl": aws.String("ttl")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":before": {N: aws.String(strconv.FormatInt(before.Unix(), 10))},
		},
	}
	err := d.api.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, _ bool) bool {
		var conns []Connection
		if unmarshalErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &conns); unmarshalErr != nil {
			return false
		}
		stale = append(stale, conns...)
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan for stale connections: %w", err)
	}
	if unmarshalErr != nil {
		return 0, fmt.Errorf("failed to unmarshal stale connections: %w", unmarshalErr)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	// Batch delete in chunks of 25 (DynamoDB limit)
	const batchSize = 25
	for i := 0; i < len(stale); i += batchSize {
		end := i + batchSize
		if end > len(stale) {
			end = len(stale)
		}
		chunk := stale[i:end]

		writeRequests := make([]*dynamodb.WriteRequest, len(chunk))
		for j, conn := range chunk {
			key, err := dynamodbattribute.MarshalMap(map[string]string{"pk": conn.ConnectionID})
			if err != nil {
				return 0, fmt.Errorf("failed to marshal key for connection %v: %w", conn.ConnectionID, err)
			}
			writeRequests[j] = &dynamodb.WriteRequest{
				DeleteRequest: &dynamodb.DeleteRequest{Key: key},
			}
		}

		unprocessed := map[string][]*dynamodb.WriteRequest{
			d.tableName: writeRequests,
		}

		const maxRetries = 5
		for attempt := 0; attempt < maxRetries; attempt++ {
			output, err := d.api.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: unprocessed,
			})
			if err != nil {
				return 0, fmt.Errorf("failed to batch delete stale connections: %w", err)
			}
			if len(output.UnprocessedItems) == 0 {
				break
			}
			unprocessed = output.UnprocessedItems
			if attempt < maxRetries-1 {
				backoff := time.Duration(1<<attempt) * 100 * time.Millisecond
				timer := time.NewTimer(backoff)
				select {
				case <-ctx.Done():
					timer.Stop()
					return 0, fmt.Errorf("context cancelled while deleting stale connections: %w", ctx.Err())
				case <-timer.C:
				}
			} else {
				return 0, fmt.Errorf("failed to delete all stale connections: %d items unprocessed after %d retries", len(unprocessed[d.tableName]), maxRetries)
			}
		}
	}

	return len(stale), nil
}

// CreateTable creates the backing table if missing. Test and local-dev helper.
func (d *DAO) CreateTable(ctx context.Context) error {
	return d.table.CreateTableIfNotExists(ctx)
}

// DeleteTable drops the backing table. Test helper.
func (d *DAO) DeleteTable(ctx context.Context) error {
	return d.table.DeleteTableIfExists(ctx)
}
