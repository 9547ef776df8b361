//go:build property
// +build property

// Package coordination_test contains property-based tests for work-claim
// exclusivity under arbitrary pair orientation.
package coordination_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/coordination"
)

// TestClaimOrientationProperties verifies that a pair claim is independent
// of argument order.
// Property: Claim(a,b,m) and Claim(b,a,m) address the same reservation
func TestClaimOrientationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("re-claim in either orientation is idempotent", prop.ForAll(
		func(a, b string) bool {
			if a == "" || b == "" || a == b {
				return true
			}
			table := coordination.NewClaimTable(time.Minute)
			first, err := table.Claim(a, b, "m1")
			if err != nil {
				return false
			}
			flipped, err := table.Claim(b, a, "m1")
			if err != nil {
				return false
			}
			return first.ClaimID == flipped.ClaimID && table.Len() == 1
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("a held pair refuses every other mediator", prop.ForAll(
		func(a, b string) bool {
			if a == "" || b == "" || a == b {
				return true
			}
			table := coordination.NewClaimTable(time.Minute)
			if _, err := table.Claim(a, b, "m1"); err != nil {
				return false
			}
			if _, err := table.Claim(b, a, "m2"); err == nil {
				return false
			}
			holder := table.Holder(b, a)
			return holder != nil && holder.MediatorID == "m1"
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("release frees the pair in either orientation", prop.ForAll(
		func(a, b string) bool {
			if a == "" || b == "" || a == b {
				return true
			}
			table := coordination.NewClaimTable(time.Minute)
			if _, err := table.Claim(a, b, "m1"); err != nil {
				return false
			}
			if !table.Release(b, a, "m1") {
				return false
			}
			_, err := table.Claim(a, b, "m2")
			return err == nil
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
