package pollsws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elmerjani/polls-app-backend/polls-ws/connectiondao"
)

// Result is the outcome of one broadcast cycle.
type Result struct {
	Delivered int
	Failed    []string // connection ids whose delivery failed
}

// Dispatcher pushes frames to WebSocket connections through the API Gateway
// management API. It only reports failed recipients; whether a failure means
// the connection should be pruned is the caller's call, since a single failed
// delivery is not proof of disconnection.
type Dispatcher struct {
	Logger      zerolog.Logger
	Concurrency int           // max concurrent PostToConnection calls (default 50)
	SendTimeout time.Duration // per-delivery bound (default 5s)

	// NewClient builds a management client for an endpoint. Tests and the
	// local dev server override it; nil means the real client.
	NewClient func(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI

	// mgmtClients caches management API clients by endpoint
	mgmtMu      sync.RWMutex
	mgmtClients map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI
}

// Broadcast sends the same payload to every connection in the snapshot,
// concurrently and independently. A failed recipient never aborts or delays
// the others; it lands in Result.Failed instead of an error.
func (d *Dispatcher) Broadcast(ctx context.Context, payload []byte, conns []connectiondao.Connection) Result {
	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = 50
	}

	var (
		mu     sync.Mutex
		failed []string
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			if err := d.Send(ctx, conn.Endpoint, conn.ConnectionID, payload); err != nil {
				if isGoneException(err) {
					d.Logger.Info().
						Str("connection_id", conn.ConnectionID).
						Msg("connection gone")
				} else {
					d.Logger.Warn().Err(err).
						Str("connection_id", conn.ConnectionID).
						Msg("delivery failed")
				}
				mu.Lock()
				failed = append(failed, conn.ConnectionID)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return Result{Delivered: len(conns) - len(failed), Failed: failed}
}

// Send posts one frame to one connection with a bounded timeout.
func (d *Dispatcher) Send(ctx context.Context, endpoint, connectionID string, data []byte) error {
	timeout := d.SendTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := d.managementClient(endpoint)
	_, err := client.PostToConnectionWithContext(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	return err
}

func (d *Dispatcher) managementClient(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
	d.mgmtMu.RLock()
	if client, ok := d.mgmtClients[endpoint]; ok {
		d.mgmtMu.RUnlock()
		return client
	}
	d.mgmtMu.RUnlock()

	d.mgmtMu.Lock()
	defer d.mgmtMu.Unlock()

	// Double-check after acquiring write lock
	if client, ok := d.mgmtClients[endpoint]; ok {
		return client
	}

	if d.mgmtClients == nil {
		d.mgmtClients = make(map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI)
	}

	client := d.buildClient(endpoint)
	d.mgmtClients[endpoint] = client
	return client
}

func (d *Dispatcher) buildClient(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
	if d.NewClient != nil {
		return d.NewClient(endpoint)
	}
	sess := session.Must(session.NewSession(aws.NewConfig().WithEndpoint(endpoint)))
	return apigatewaymanagementapi.New(sess)
}

// isGoneException checks if the error is a GoneException (HTTP 410),
// indicating the WebSocket connection no longer exists.
func isGoneException(err error) bool {
	return strings.Contains(err.Error(), "GoneException") ||
		strings.Contains(err.Error(), "410")
}
