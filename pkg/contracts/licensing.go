package contracts

import "time"

// License grants an identity the right to act within a scope. The mediator
// never issues licenses on its own authority; it keeps a registry so the
// settlement validator can gate settlements that reference one.
type License struct {
	LicenseID string     `json:"license_id"`
	Holder    string     `json:"holder"`
	Scope     string     `json:"scope,omitempty"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Delegation extends a license to a delegate. A delegation is active only
// while its parent license is.
type Delegation struct {
	DelegationID string     `json:"delegation_id"`
	LicenseID    string     `json:"license_id"`
	Delegate     string     `json:"delegate"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Revoked      bool       `json:"revoked"`
}
