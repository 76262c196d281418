package pollsddb

import (
	pollscli "github.com/elmerjani/polls-app-backend/polls-cli"
	"github.com/urfave/cli/v2"
)

var DDBOpts struct {
	DAXCluster string
	DAXRegion  string
	Endpoint   string
}

var DAXClusterFlag = pollscli.StringFlag("dax-cluster", "The DAX cluster to connect to", &DDBOpts.DAXCluster)
var DAXRegionFlag = pollscli.StringFlag("dax-region", "The region the DAX cluster lives in", &DDBOpts.DAXRegion, "us-east-1")
var EndpointFlag = pollscli.StringFlag("ddb-endpoint", "Override the DynamoDB endpoint (e.g. a local instance)", &DDBOpts.Endpoint)

var DDBFlags = []cli.Flag{
	DAXClusterFlag,
	DAXRegionFlag,
	EndpointFlag,
}
