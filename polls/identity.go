// Package polls holds the domain types shared between the voting core and the
// WebSocket transport layer.
package polls

// Identity is a verified voter identity. Token verification happens upstream
// (the transport's authorizer); the core trusts what it is handed.
type Identity struct {
	ID          string `json:"id" dynamodbav:"id"`
	DisplayName string `json:"displayName" dynamodbav:"display_name"`
}

// Zero reports whether the identity is missing.
func (id Identity) Zero() bool {
	return id.ID == ""
}
