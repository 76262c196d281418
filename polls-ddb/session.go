package pollsddb

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
)

// Session builds the AWS session used for DynamoDB access, honoring the
// --ddb-endpoint override so console mode can point at a local instance.
func Session() *session.Session {
	config := aws.NewConfig()
	if DDBOpts.Endpoint != "" {
		config = config.WithEndpoint(DDBOpts.Endpoint)
	}
	return session.Must(session.NewSession(config))
}
