package settlement

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

// LicenseRegistry answers the validator's license gate from the persisted
// licensing directories. Licenses and delegations rehydrate at startup;
// Grant, Delegate, and Revoke keep the stores and the in-memory tables in
// step.
type LicenseRegistry struct {
	mu          sync.Mutex
	licStore    Store
	delStore    Store
	logger      *slog.Logger
	licenses    map[string]*contracts.License
	delegations map[string]*contracts.Delegation
}

// NewLicenseRegistry rehydrates both tables from their stores.
func NewLicenseRegistry(licenseStore, delegationStore Store, logger *slog.Logger) *LicenseRegistry {
	r := &LicenseRegistry{
		licStore:    licenseStore,
		delStore:    delegationStore,
		logger:      logger,
		licenses:    make(map[string]*contracts.License),
		delegations: make(map[string]*contracts.Delegation),
	}
	_ = licenseStore.LoadEach(
		func() interface{} { return &contracts.License{} },
		func(id string, v interface{}) {
			l := v.(*contracts.License)
			r.licenses[l.LicenseID] = l
		})
	_ = delegationStore.LoadEach(
		func() interface{} { return &contracts.Delegation{} },
		func(id string, v interface{}) {
			d := v.(*contracts.Delegation)
			r.delegations[d.DelegationID] = d
		})
	return r
}

// Grant records a new license.
func (r *LicenseRegistry) Grant(l contracts.License) error {
	if l.LicenseID == "" || l.Holder == "" {
		return &errs.ValidationError{Op: "Grant", Reason: "license id and holder required"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.licenses[l.LicenseID]; exists {
		return &errs.ConflictError{Op: "Grant", Reason: "license id already recorded"}
	}
	copied := l
	r.licenses[l.LicenseID] = &copied
	if err := r.licStore.Save(l.LicenseID, &copied); err != nil {
		delete(r.licenses, l.LicenseID)
		return fmt.Errorf("persist license %s: %w", l.LicenseID, err)
	}
	return nil
}

// Delegate records a delegation under an existing license.
func (r *LicenseRegistry) Delegate(d contracts.Delegation) error {
	if d.DelegationID == "" || d.Delegate == "" {
		return &errs.ValidationError{Op: "Delegate", Reason: "delegation id and delegate required"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.licenses[d.LicenseID]; !ok {
		return &errs.ValidationError{Op: "Delegate", Reason: fmt.Sprintf("parent license %s not found", d.LicenseID)}
	}
	if _, exists := r.delegations[d.DelegationID]; exists {
		return &errs.ConflictError{Op: "Delegate", Reason: "delegation id already recorded"}
	}
	copied := d
	r.delegations[d.DelegationID] = &copied
	if err := r.delStore.Save(d.DelegationID, &copied); err != nil {
		delete(r.delegations, d.DelegationID)
		return fmt.Errorf("persist delegation %s: %w", d.DelegationID, err)
	}
	return nil
}

// Revoke marks a license or delegation revoked. Revoking a license also
// deactivates every delegation under it without touching their records.
func (r *LicenseRegistry) Revoke(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.licenses[id]; ok {
		l.Revoked = true
		copied := *l
		if err := r.licStore.Save(id, &copied); err != nil {
			l.Revoked = false
			return fmt.Errorf("persist license %s: %w", id, err)
		}
		return nil
	}
	if d, ok := r.delegations[id]; ok {
		d.Revoked = true
		copied := *d
		if err := r.delStore.Save(id, &copied); err != nil {
			d.Revoked = false
			return fmt.Errorf("persist delegation %s: %w", id, err)
		}
		return nil
	}
	return &errs.ValidationError{Op: "Revoke", Reason: fmt.Sprintf("%s is not a known license or delegation", id)}
}

// Active reports whether the ID names a currently valid license or
// delegation. A delegation is active only while its parent license is.
func (r *LicenseRegistry) Active(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.licenses[id]; ok {
		return licenseActive(l, now)
	}
	if d, ok := r.delegations[id]; ok {
		if d.Revoked || (d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)) {
			return false
		}
		parent, ok := r.licenses[d.LicenseID]
		return ok && licenseActive(parent, now)
	}
	return false
}

func licenseActive(l *contracts.License, now time.Time) bool {
	return !l.Revoked && (l.ExpiresAt == nil || now.Before(*l.ExpiresAt))
}
