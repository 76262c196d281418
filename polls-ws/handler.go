package pollsws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/elmerjani/polls-app-backend/polls"
	"github.com/elmerjani/polls-app-backend/polls-ws/connectiondao"
)

// Handler routes API Gateway WebSocket events. $connect and $disconnect
// maintain the connection registry; $default carries the action protocol.
type Handler struct {
	Connections *connectiondao.DAO
	Coordinator *Coordinator
	Dispatcher  *Dispatcher
	Logger      zerolog.Logger
	ConnTTL     time.Duration // TTL for connection records (default 2 hours)
}

// HandleEvent routes an API Gateway WebSocket event to the appropriate handler.
func (h *Handler) HandleEvent(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	logger := h.Logger.With().
		Str("connection_id", req.RequestContext.ConnectionID).
		Str("route", req.RequestContext.RouteKey).
		Logger()

	switch req.RequestContext.RouteKey {
	case "$connect":
		return h.handleConnect(ctx, logger, req)
	case "$disconnect":
		return h.handleDisconnect(ctx, logger, req)
	case "$default":
		return h.handleMessage(ctx, logger, req)
	default:
		logger.Warn().Msg("unknown route")
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}
}

// IdentityFromRequest pulls the verified identity off a $connect request.
// The authorizer context is authoritative; query parameters are the local
// development fallback where no authorizer runs.
func IdentityFromRequest(req events.APIGatewayWebsocketProxyRequest) polls.Identity {
	if m, ok := req.RequestContext.Authorizer.(map[string]interface{}); ok {
		id, _ := m["userId"].(string)
		name, _ := m["displayName"].(string)
		if id != "" {
			return polls.Identity{ID: id, DisplayName: name}
		}
	}
	return polls.Identity{
		ID:          req.QueryStringParameters["userId"],
		DisplayName: req.QueryStringParameters["displayName"],
	}
}

func endpointFromRequest(req events.APIGatewayWebsocketProxyRequest) string {
	return fmt.Sprintf("https://%s/%s", req.RequestContext.DomainName, req.RequestContext.Stage)
}

func (h *Handler) handleConnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	identity := IdentityFromRequest(req)
	if identity.Zero() {
		logger.Warn().Msg("connect without identity rejected")
		return events.APIGatewayProxyResponse{StatusCode: 401}, nil
	}

	ttl := h.ConnTTL
	if ttl == 0 {
		ttl = 2 * time.Hour
	}

	conn := connectiondao.Connection{
		ConnectionID: req.RequestContext.ConnectionID,
		Identity:     identity,
		Endpoint:     endpointFromRequest(req),
		ConnectedAt:  time.Now().Unix(),
		TTL:          time.Now().Add(ttl).Unix(),
	}

	if err := h.Connections.Put(ctx, conn); err != nil {
		logger.Error().Err(err).Msg("failed to store connection")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}

	logger.Info().Str("user_id", identity.ID).Msg("connection established")
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

func (h *Handler) handleDisconnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	if err := h.Connections.Delete(ctx, req.RequestContext.ConnectionID); err != nil {
		logger.Error().Err(err).Msg("failed to delete connection")
	}

	logger.Info().Msg("connection closed")
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

func (h *Handler) handleMessage(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	msg, err := ParseMessage(req.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid message")
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}

	connID := req.RequestContext.ConnectionID
	endpoint := endpointFromRequest(req)

	switch msg.Action {
	case ActionVote:
		if err := h.Coordinator.HandleVote(ctx, endpoint, connID, msg); err != nil {
			logger.Error().Err(err).Msg("vote handling failed")
			return events.APIGatewayProxyResponse{StatusCode: 500}, nil
		}
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil

	case ActionTally:
		if err := h.Coordinator.HandleTallyQuery(ctx, endpoint, connID, msg.PollID); err != nil {
			logger.Error().Err(err).Msg("tally query failed")
			return events.APIGatewayProxyResponse{StatusCode: 500}, nil
		}
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil

	case ActionPing:
		if err := h.Dispatcher.Send(ctx, endpoint, connID, PongMessage()); err != nil {
			logger.Error().Err(err).Msg("failed to send pong")
		}
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil

	default:
		logger.Warn().Str("action", msg.Action).Msg("unhandled message action")
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil
	}
}
