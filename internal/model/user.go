package model

import "time"

// Role names stored in the users collection and echoed in JWT claims.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User represents an application account.  The reservation engine
// itself only ever sees the ID (as the authenticated requester) and
// the Premium flag (an input to the coupon engine); everything else
// exists for the thin identity surface around it.
//
// Fields:
//  ID           – document identifier.
//  Email        – unique email address, stored lower case.
//  Name         – display name.
//  PasswordHash – bcrypt hashed password.  Serialized because user
//                 documents round-trip through JSON storage; handlers
//                 must strip it from responses.
//  Role         – customer or admin.
//  Premium      – whether the account has an active subscription;
//                 gates premiumOnly coupons.
//  CreatedAt    – timestamp of creation.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Role         string    `json:"role"`
	Premium      bool      `json:"premium"`
	CreatedAt    time.Time `json:"created_at"`
}
