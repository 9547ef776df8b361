package settlement

// Schemas validating the settlement layer's persisted documents on
// rehydrate.
const (
	SettlementSchema = `{
  "type": "object",
  "required": ["id", "intent_hash_a", "intent_hash_b", "mediator_id", "statement", "status", "created_at", "immutable"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "intent_hash_a": {"type": "string", "minLength": 1},
    "intent_hash_b": {"type": "string", "minLength": 1},
    "statement": {"type": "string", "minLength": 1},
    "status": {"enum": ["proposed", "ratified", "finalized", "contested", "reversed"]},
    "stake": {"type": "number", "minimum": 0},
    "value": {"type": "number", "minimum": 0},
    "created_at": {"type": "string"}
  }
}`

	LicenseSchema = `{
  "type": "object",
  "required": ["license_id", "holder", "issued_at", "revoked"],
  "properties": {
    "license_id": {"type": "string", "minLength": 1},
    "holder": {"type": "string", "minLength": 1},
    "issued_at": {"type": "string"},
    "revoked": {"type": "boolean"}
  }
}`

	DelegationSchema = `{
  "type": "object",
  "required": ["delegation_id", "license_id", "delegate", "issued_at", "revoked"],
  "properties": {
    "delegation_id": {"type": "string", "minLength": 1},
    "license_id": {"type": "string", "minLength": 1},
    "delegate": {"type": "string", "minLength": 1},
    "issued_at": {"type": "string"},
    "revoked": {"type": "boolean"}
  }
}`
)
