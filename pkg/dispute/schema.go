package dispute

// Schemas validating the dispute layer's persisted documents on rehydrate.
const (
	// DisputeSchema covers the dispute document: the dispute itself plus
	// its evidence and clarification records.
	DisputeSchema = `{
  "type": "object",
  "required": ["dispute"],
  "properties": {
    "dispute": {
      "type": "object",
      "required": ["dispute_id", "status", "claimant", "contested_items", "opened_at"],
      "properties": {
        "dispute_id": {"type": "string", "minLength": 1},
        "status": {"enum": ["initiated", "under_review", "clarifying", "escalated", "resolved"]},
        "claimant": {"type": "string", "minLength": 1},
        "contested_items": {"type": "array", "minItems": 1},
        "opened_at": {"type": "string"}
      }
    },
    "evidence": {"type": "array"},
    "clarifications": {"type": "array"}
  }
}`

	FrozenItemSchema = `{
  "type": "object",
  "required": ["item_id", "item_type", "dispute_id", "snapshot_hash", "status", "frozen_at"],
  "properties": {
    "item_id": {"type": "string", "minLength": 1},
    "dispute_id": {"type": "string", "minLength": 1},
    "snapshot_hash": {"type": "string", "minLength": 1},
    "status": {"enum": ["under_dispute", "dispute_resolved"]}
  }
}`

	ResolutionSchema = `{
  "type": "object",
  "required": ["resolution_id", "dispute_id", "outcome", "is_immutable", "resolved_at"],
  "properties": {
    "resolution_id": {"type": "string", "minLength": 1},
    "dispute_id": {"type": "string", "minLength": 1},
    "outcome": {"enum": ["claimant_favored", "respondent_favored", "compromise", "dismissed", "other"]}
  }
}`

	PackageSchema = `{
  "type": "object",
  "required": ["package_id", "dispute_id", "package_hash", "dispute", "built_at"],
  "properties": {
    "package_id": {"type": "string", "minLength": 1},
    "package_hash": {"type": "string", "minLength": 1},
    "dispute": {"type": "object"}
  }
}`
)
