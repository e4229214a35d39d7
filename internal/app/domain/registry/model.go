package registry

import (
	"encoding/json"
	"strings"
	"time"
)

// AppRecord is the mirror row for one registered domain.
type AppRecord struct {
	Domain           string
	LedgerID         *int64
	Manifest         json.RawMessage
	LastCheckAttempt time.Time
	LastCheckSuccess *time.Time
}

// HasManifest reports whether a manifest was ever fetched successfully.
func (r AppRecord) HasManifest() bool {
	return len(r.Manifest) > 0 && string(r.Manifest) != "null"
}

// Manifest is the validated frame object of an owner-hosted manifest.
type Manifest struct {
	Name string
	Raw  json.RawMessage
}

// LedgerEntry is a registry entry as reported by the contract.
type LedgerEntry struct {
	ID        int64
	Domain    string
	Owner     string
	Token     *string
	CreatedAt int64
	Hidden    bool
}

// DerivedMetrics holds the cache-only financial facts for an entry. The zero
// value is returned for unknown keys.
type DerivedMetrics struct {
	FrameID   int64   `json:"frameId"`
	Domain    string  `json:"domain"`
	Owner     string  `json:"owner"`
	Token     *string `json:"token"`
	Symbol    string  `json:"symbol,omitempty"`
	Liquidity float64 `json:"liquidity"`
	Funding   float64 `json:"funding"`
	CreatedAt int64   `json:"createdAt"`
}

// APIKey maps an opaque key to the domain it authorizes.
type APIKey struct {
	Key    string
	Domain string
}

// NotificationTarget is a per-user push endpoint registered by an app.
type NotificationTarget struct {
	Domain string `json:"domain"`
	FID    int64  `json:"fid"`
	URL    string `json:"url"`
	Token  string `json:"token"`
	Active bool   `json:"active"`
}

// NormalizeDomain lowercases and trims a domain name.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// ValidDomain reports whether a normalized name is a bare DNS hostname:
// at least two dot-separated labels of letters, digits and inner hyphens,
// with a top-level label that is not all digits. Ports, userinfo, paths,
// IP literals and trailing dots are rejected.
func ValidDomain(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if !validLabel(label) {
			return false
		}
	}
	tld := labels[len(labels)-1]
	return strings.TrimLeft(tld, "0123456789") != ""
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }
