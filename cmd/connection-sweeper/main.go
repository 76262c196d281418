package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	pollscli "github.com/elmerjani/polls-app-backend/polls-cli"
	pollscron "github.com/elmerjani/polls-app-backend/polls-cron"
	pollsddb "github.com/elmerjani/polls-app-backend/polls-ddb"
	"github.com/elmerjani/polls-app-backend/polls-ws/connectiondao"
)

var opts struct {
	Grace time.Duration
}

var service = pollscli.Service{
	Name:    "connection-sweeper",
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
				pollscli.DurationFlag("grace", "how far past expiry a connection record must be before it is swept", &opts.Grace, 15*time.Minute),
			)...,
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	api, err := pollsddb.DynamoDBAPI(pollsddb.Session())
	if err != nil {
		return err
	}
	connections := connectiondao.Build(api, pollscli.CommonOpts.Env)

	return pollscron.NewHandler(service, func(ctx context.Context) error {
		removed, err := connections.DeleteStale(ctx, time.Now().Add(-opts.Grace))
		if err != nil {
			return err
		}
		zerolog.Ctx(ctx).Info().Int("removed", removed).Msg("swept stale connections")
		return nil
	}).Start()
}
