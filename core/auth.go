package core

import "time"

// Role separates operators, who manage tokens and clearance, from relay clients
type Role string

const (
	RoleOperator Role = "clearway:operator"
	RoleClient   Role = "clearway:client"
)

// Principal represents an authenticated caller of the clearway API
type Principal struct {
	ID        string    // Unique identifier of the issued API token
	Subject   string    // Who the token was issued to
	Role      Role      // Audience the token was issued for
	IssuedAt  time.Time // When the token was created
	ExpiresAt time.Time // When the token stops being accepted
}
