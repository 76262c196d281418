package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	pollscli "github.com/elmerjani/polls-app-backend/polls-cli"
	pollsddb "github.com/elmerjani/polls-app-backend/polls-ddb"
	pollsreport "github.com/elmerjani/polls-app-backend/polls-report"
)

var service = pollscli.NewService("tally-report")

func main() {
	app := pollscli.App(
		service,
		action,
		append(
			pollscli.CommonFlags,
			append(
				pollsddb.DDBFlags,
				pollsreport.ReportFlags...,
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

	handler := pollsreport.NewHandler(service, "tally", pollsreport.NewTallyGenerator(api, pollscli.CommonOpts.Env))
	return handler.Start()
}
