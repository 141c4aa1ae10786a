package models

import (
	"math"
	"time"
)

// NamespacePrefix is prepended to a tenant id to form its storage namespace.
const NamespacePrefix = "tenant_"

type Tenant struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Contact       string     `json:"contact"`
	QuotaBytes    int64      `json:"quota_bytes"`
	UsedBytes     int64      `json:"used_bytes"`
	DocumentCount int        `json:"document_count"`
	Active        bool       `json:"active"`
	Namespace     string     `json:"namespace"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastUpload    *time.Time `json:"last_upload,omitempty"`
}

// NamespaceFor derives the storage namespace of a tenant id.
func NamespaceFor(id string) string {
	return NamespacePrefix + id
}

func (t *Tenant) RemainingBytes() int64 {
	if t.UsedBytes >= t.QuotaBytes {
		return 0
	}
	return t.QuotaBytes - t.UsedBytes
}

// UsagePercent is rounded to one decimal place.
func (t *Tenant) UsagePercent() float64 {
	if t.QuotaBytes <= 0 {
		return 0
	}
	return math.Round(float64(t.UsedBytes)/float64(t.QuotaBytes)*1000) / 10
}

// TenantUpdate carries the administratively editable fields; nil fields are
// left untouched.
type TenantUpdate struct {
	Name       *string `json:"name,omitempty"`
	Contact    *string `json:"contact,omitempty"`
	QuotaBytes *int64  `json:"quota_bytes,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

func (u TenantUpdate) Empty() bool {
	return u.Name == nil && u.Contact == nil && u.QuotaBytes == nil && u.Active == nil
}

// Apply copies the supplied fields onto t.
func (u TenantUpdate) Apply(t *Tenant) {
	if u.Name != nil {
		t.Name = *u.Name
	}
	if u.Contact != nil {
		t.Contact = *u.Contact
	}
	if u.QuotaBytes != nil {
		t.QuotaBytes = *u.QuotaBytes
	}
	if u.Active != nil {
		t.Active = *u.Active
	}
}

// TenantStats summarizes the whole registry.
type TenantStats struct {
	TotalTenants    int     `json:"total_tenants"`
	ActiveTenants   int     `json:"active_tenants"`
	TotalQuotaBytes int64   `json:"total_quota_bytes"`
	TotalUsedBytes  int64   `json:"total_used_bytes"`
	TotalDocuments  int     `json:"total_documents"`
	AvgUsagePercent float64 `json:"avg_usage_percent"`
}
