// Package localws runs an in-process stand-in for the API Gateway WebSocket
// API so the whole connect/vote/broadcast loop works on a laptop: gorilla
// sockets in front, the production Handler behind, and a management client
// that writes frames straight back to the local sockets.
package localws

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	pollsws "github.com/elmerjani/polls-app-backend/polls-ws"
)

// Server owns the local sockets. Handler is assigned after construction, once
// the dispatcher has been pointed at ManagementClient.
type Server struct {
	Handler *pollsws.Handler
	Logger  zerolog.Logger

	mu    sync.Mutex
	seq   int
	conns map[string]*localConn
}

func New(logger zerolog.Logger) *Server {
	return &Server{
		Logger: logger,
		conns:  map[string]*localConn{},
	}
}

// localConn serializes writes; gorilla connections allow one writer at a time.
type localConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *localConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// ManagementClient returns a stand-in for the API Gateway management API that
// delivers frames directly to the local sockets. Unknown connection ids get
// the same GoneException surface the real API produces.
func (s *Server) ManagementClient() apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
	return managementClient{server: s}
}

type managementClient struct {
	apigatewaymanagementapiiface.ApiGatewayManagementApiAPI

	server *Server
}

func (m managementClient) PostToConnectionWithContext(_ aws.Context, input *apigatewaymanagementapi.PostToConnectionInput, _ ...request.Option) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	return m.server.post(aws.StringValue(input.ConnectionId), input.Data)
}

func (s *Server) post(connectionID string, data []byte) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	s.mu.Lock()
	conn, ok := s.conns[connectionID]
	s.mu.Unlock()

	if !ok {
		return nil, awserr.New("GoneException", fmt.Sprintf("connection %v is gone", connectionID), nil)
	}
	if err := conn.write(data); err != nil {
		return nil, err
	}
	return &apigatewaymanagementapi.PostToConnectionOutput{}, nil
}

// Router serves the websocket upgrade endpoint with permissive CORS, matching
// what a dev frontend on another port needs.
func (s *Server) Router() chi.Router {
	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	router.Get("/ws", s.serveWS)
	return router
}

// ListenAndServe blocks serving the local gateway on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.Logger.Info().Str("addr", addr).Msg("local websocket gateway listening")
	return http.ListenAndServe(addr, s.Router())
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connectionID := s.nextConnectionID()
	logger := s.Logger.With().Str("connection_id", connectionID).Logger()

	req := s.gatewayRequest("$connect", connectionID, "")
	req.QueryStringParameters = queryParams(r)

	resp, err := s.Handler.HandleEvent(r.Context(), req)
	if err != nil || resp.StatusCode != 200 {
		logger.Warn().Int("status", resp.StatusCode).Err(err).Msg("connect rejected")
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connect rejected"))
		ws.Close()
		return
	}

	s.addConn(connectionID, ws)
	logger.Info().Msg("local connection established")

	defer func() {
		s.removeConn(connectionID)
		ws.Close()
		// $disconnect survives the request context ending
		if _, err := s.Handler.HandleEvent(context.Background(), s.gatewayRequest("$disconnect", connectionID, "")); err != nil {
			logger.Warn().Err(err).Msg("disconnect handling failed")
		}
		logger.Info().Msg("local connection closed")
	}()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if _, err := s.Handler.HandleEvent(r.Context(), s.gatewayRequest("$default", connectionID, string(data))); err != nil {
			logger.Warn().Err(err).Msg("message handling failed")
		}
	}
}

func (s *Server) gatewayRequest(route, connectionID, body string) events.APIGatewayWebsocketProxyRequest {
	return events.APIGatewayWebsocketProxyRequest{
		Body: body,
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			RouteKey:     route,
			ConnectionID: connectionID,
			DomainName:   "localhost",
			Stage:        "local",
		},
	}
}

func (s *Server) nextConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("local-%v", s.seq)
}

func (s *Server) addConn(connectionID string, ws *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[connectionID] = &localConn{ws: ws}
}

func (s *Server) removeConn(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, connectionID)
}

func queryParams(r *http.Request) map[string]string {
	params := map[string]string{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params
}
