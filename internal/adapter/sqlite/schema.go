package sqlite

import _ "embed"

//go:embed schema.sql
var schemaDDL string

const (
	jobColumns     = "id, owner_id, provider, status, simulated, input_refs, result_ref, failure_reason, idempotency_key, usage_kind, usage_quantity, charge_on, created_at, updated_at"
	entryColumns   = "idempotency_key, owner_id, kind, quantity, status, denial_reason, created_at, completed_at"
	accountColumns = "owner_id, subscription_active, credits, updated_at"
	counterColumns = "artifact_id, artifact_type, used, free_limit, created_at, updated_at"
)
