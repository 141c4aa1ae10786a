package queue

const (
	TypeDocumentIngest    = "document:ingest"
	TypeUsageReconcile    = "usage:reconcile"
	TypeNamespaceTeardown = "namespace:teardown"
)

// Queue names, highest priority first.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// DocumentIngestPayload carries the upload itself; the quota is reserved
// when the task runs, not when it is enqueued.
type DocumentIngestPayload struct {
	TenantID    string `json:"tenant_id"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
	Data        []byte `json:"data"`
}

// UsageReconcilePayload with an empty TenantID reconciles every tenant.
type UsageReconcilePayload struct {
	TenantID string `json:"tenant_id,omitempty"`
}

type NamespaceTeardownPayload struct {
	TenantID  string `json:"tenant_id"`
	Namespace string `json:"namespace"`
}
