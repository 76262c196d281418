package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/urfave/cli/v2"

	pollscli "github.com/elmerjani/polls-app-backend/polls-cli"
	pollsddb "github.com/elmerjani/polls-app-backend/polls-ddb"
	pollsws "github.com/elmerjani/polls-app-backend/polls-ws"
	"github.com/elmerjani/polls-app-backend/polls-ws/connectiondao"
	"github.com/elmerjani/polls-app-backend/polls-ws/localws"
	"github.com/elmerjani/polls-app-backend/voting"
)

var opts struct {
	Concurrency int
	SendTimeout time.Duration
	ConnTTL     time.Duration
}

var service = pollscli.Service{
	Name:    "polls-ws",
	Version: pollscli.CommitHash(),
}

func main() {
	app := pollscli.App(
		service,
		action,
		append(
			pollscli.CommonFlags,
			append(
				pollsddb.DDBFlags,
				pollscli.PortFlag(5001),
				pollscli.IntFlag("concurrency", "max concurrent deliveries during a broadcast", &opts.Concurrency, 50),
				pollscli.DurationFlag("send-timeout", "per-connection delivery timeout", &opts.SendTimeout, 5*time.Second),
				pollscli.DurationFlag("conn-ttl", "how long a connection record lives without reconnecting", &opts.ConnTTL, 2*time.Hour),
			)...,
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	logger := pollscli.Logger(service)

	sess := pollsddb.Session()
	api, err := pollsddb.DynamoDBAPI(sess)
	if err != nil {
		return err
	}

	var metrics pollscli.Metrics
	if !pollscli.CommonOpts.Console {
		metrics = pollscli.NewMetrics(service, cloudwatch.New(sess))
	}

	env := pollscli.CommonOpts.Env
	dispatcher := &pollsws.Dispatcher{
		Logger:      logger,
		Concurrency: opts.Concurrency,
		SendTimeout: opts.SendTimeout,
	}
	coordinator := &pollsws.Coordinator{
		Ledger:      voting.BuildLedger(api, env),
		Tally:       voting.BuildTally(api, env),
		Connections: connectiondao.Build(api, env),
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	}
	handler := &pollsws.Handler{
		Connections: coordinator.Connections,
		Coordinator: coordinator,
		Dispatcher:  dispatcher,
		Logger:      logger,
		ConnTTL:     opts.ConnTTL,
	}

	if pollscli.CommonOpts.Console {
		server := localws.New(logger)
		dispatcher.NewClient = func(string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
			return server.ManagementClient()
		}
		server.Handler = handler
		logger.Info().Int("port", pollscli.CommonOpts.Port).Str("env", env).Msg("listening for websocket connections")
		return server.ListenAndServe(fmt.Sprintf(":%v", pollscli.CommonOpts.Port))
	}

	lambda.Start(handler.HandleEvent)
	return nil
}
