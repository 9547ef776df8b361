package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
)

// ReceiptSource answers the effort-receipt gate. Nil lookups mean the
// receipt does not exist.
type ReceiptSource interface {
	Receipt(receiptID string) *contracts.EffortReceipt
}

// DisputeSource answers the active-dispute gate. Returns the dispute ID
// holding the item, or "" when none is active.
type DisputeSource interface {
	ActiveDisputeFor(itemID string) string
}

// LicenseSource answers the license/delegation gate.
type LicenseSource interface {
	Active(licenseID string, now time.Time) bool
}

// Gates toggles individual precondition checks. All run by default.
type Gates struct {
	SkipReceiptGate bool
	SkipDisputeGate bool
	SkipLicenseGate bool
}

// Result splits findings into blocking errors (reject) and advisory
// warnings (accept, surface to the caller).
type Result struct {
	Blocking []string
	Advisory []string
}

// Validator runs the precondition gates ahead of every declaration, plus
// any operator-supplied CEL policies. CEL findings are always advisory.
type Validator struct {
	receipts     ReceiptSource
	disputes     DisputeSource
	licenses     LicenseSource
	gates        Gates
	requireHuman bool
	policies     []compiledPolicy
	clock        func() time.Time
}

type compiledPolicy struct {
	expr    string
	program cel.Program
}

// NewValidator compiles the optional CEL policy expressions once. Each
// expression must evaluate to bool; true means the declaration passes that
// policy. A compile failure is a construction error, not a runtime one.
func NewValidator(receipts ReceiptSource, disputes DisputeSource, licenses LicenseSource, gates Gates, requireHuman bool, celPolicies []string) (*Validator, error) {
	v := &Validator{
		receipts:     receipts,
		disputes:     disputes,
		licenses:     licenses,
		gates:        gates,
		requireHuman: requireHuman,
		clock:        time.Now,
	}
	if len(celPolicies) == 0 {
		return v, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("party", cel.StringType),
		cel.Variable("human_authorship", cel.BoolType),
		cel.Variable("statement", cel.StringType),
		cel.Variable("declaration_count", cel.IntType),
		cel.Variable("required_parties", cel.IntType),
		cel.Variable("stake", cel.DoubleType),
		cel.Variable("value", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	for _, expr := range celPolicies {
		ast, iss := env.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("compile policy %q: %w", expr, iss.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program policy %q: %w", expr, err)
		}
		v.policies = append(v.policies, compiledPolicy{expr: expr, program: prg})
	}
	return v, nil
}

// CheckProposal gates a new settlement at initiation time. Blocking
// findings here additionally produce a high-severity risk entry.
func (v *Validator) CheckProposal(_ context.Context, s *contracts.ProposedSettlement) Result {
	var r Result
	if len(s.RequiredParties) == 0 {
		r.Blocking = append(r.Blocking, "settlement needs at least one required party")
	}
	if s.Statement == "" {
		r.Blocking = append(r.Blocking, "settlement statement is empty")
	}
	v.checkDisputes(s, &r)
	v.checkReceipts(s, &r)
	v.checkLicenses(s, &r)
	return r
}

// CheckDeclaration gates one party's declaration against the settlement.
func (v *Validator) CheckDeclaration(_ context.Context, s *contracts.ProposedSettlement, d *contracts.Declaration) Result {
	var r Result

	authorized := false
	for _, p := range s.RequiredParties {
		if p == d.Party {
			authorized = true
			break
		}
	}
	if !authorized {
		r.Blocking = append(r.Blocking, fmt.Sprintf("party %s not authorized", d.Party))
	}
	if v.requireHuman && !d.HumanAuthorship {
		r.Blocking = append(r.Blocking, "human authorship flag required")
	}

	v.checkDisputes(s, &r)
	v.checkReceipts(s, &r)
	v.checkLicenses(s, &r)
	v.evalPolicies(s, d, &r)
	return r
}

func (v *Validator) checkReceipts(s *contracts.ProposedSettlement, r *Result) {
	if v.gates.SkipReceiptGate || v.receipts == nil {
		return
	}
	for _, id := range s.ReferencedReceipts {
		rec := v.receipts.Receipt(id)
		if rec == nil {
			r.Blocking = append(r.Blocking, fmt.Sprintf("referenced receipt %s does not exist", id))
			continue
		}
		if rec.Status != contracts.ReceiptAnchored && rec.Status != contracts.ReceiptVerified {
			r.Blocking = append(r.Blocking, fmt.Sprintf("receipt %s is %s, need anchored or verified", id, rec.Status))
		}
	}
}

func (v *Validator) checkDisputes(s *contracts.ProposedSettlement, r *Result) {
	if v.gates.SkipDisputeGate || v.disputes == nil {
		return
	}
	if reason := v.activeDisputeReason(s); reason != "" {
		r.Blocking = append(r.Blocking, reason)
	}
}

// activeDisputeReason reports the first referenced item held by an active
// dispute, or "".
func (v *Validator) activeDisputeReason(s *contracts.ProposedSettlement) string {
	if v.gates.SkipDisputeGate || v.disputes == nil {
		return ""
	}
	for _, ref := range s.ReferencedItems() {
		if disputeID := v.disputes.ActiveDisputeFor(ref); disputeID != "" {
			return fmt.Sprintf("item %s has active dispute %s", ref, disputeID)
		}
	}
	return ""
}

func (v *Validator) checkLicenses(s *contracts.ProposedSettlement, r *Result) {
	if v.gates.SkipLicenseGate || v.licenses == nil {
		return
	}
	now := v.clock()
	for _, id := range s.ReferencedLicenses {
		if !v.licenses.Active(id, now) {
			r.Blocking = append(r.Blocking, fmt.Sprintf("license %s is not active", id))
		}
	}
}

// evalPolicies runs the operator CEL policies. Failures and evaluation
// errors are advisory only.
func (v *Validator) evalPolicies(s *contracts.ProposedSettlement, d *contracts.Declaration, r *Result) {
	if len(v.policies) == 0 {
		return
	}
	vars := map[string]interface{}{
		"party":             d.Party,
		"human_authorship":  d.HumanAuthorship,
		"statement":         s.Statement,
		"declaration_count": int64(len(s.Declarations)),
		"required_parties":  int64(len(s.RequiredParties)),
		"stake":             s.Stake,
		"value":             s.Value,
	}
	for _, p := range v.policies {
		out, _, err := p.program.Eval(vars)
		if err != nil {
			r.Advisory = append(r.Advisory, fmt.Sprintf("policy %q failed to evaluate: %v", p.expr, err))
			continue
		}
		if passed, ok := out.Value().(bool); !ok || !passed {
			r.Advisory = append(r.Advisory, fmt.Sprintf("policy %q not satisfied", p.expr))
		}
	}
}
