package burn

// LedgerSchema validates the two documents the ledger persists: the
// submissions state object and the burn-history array. Entries failing it
// are quarantined on rehydrate.
const LedgerSchema = `{
  "oneOf": [
    {
      "type": "object",
      "required": ["daily", "deposits"],
      "properties": {
        "daily": {"type": ["object", "null"]},
        "deposits": {"type": ["object", "null"]}
      }
    },
    {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["id", "type", "amount", "multiplier", "timestamp"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"enum": ["base_filing", "escalated", "success", "load_scaled"]},
          "amount": {"type": "number", "minimum": 0},
          "multiplier": {"type": "number", "minimum": 0},
          "timestamp": {"type": "string"}
        }
      }
    }
  ]
}`
