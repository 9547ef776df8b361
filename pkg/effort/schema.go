package effort

// ReceiptSchema validates persisted effort receipts on rehydrate.
const ReceiptSchema = `{
  "type": "object",
  "required": ["receipt_id", "segment_id", "receipt_hash", "status", "created_at"],
  "properties": {
    "receipt_id": {"type": "string", "minLength": 1},
    "segment_id": {"type": "string", "minLength": 1},
    "receipt_hash": {"type": "string", "minLength": 1},
    "status": {"enum": ["draft", "validated", "anchored", "verified"]},
    "created_at": {"type": "string"},
    "signal_hashes": {"type": ["array", "null"], "items": {"type": "string"}},
    "prior_receipts": {"type": "array", "items": {"type": "string"}}
  }
}`
