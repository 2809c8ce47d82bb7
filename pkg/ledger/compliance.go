package ledger

import "time"

// QueryFilter narrows ReadAll results the way the original ledger's
// get_entries does (SUPPLEMENTED FEATURES: compliance evidence queries).
type QueryFilter struct {
	EntryType  EntryType
	Actor      string
	ResourceID string
	Since      time.Time
	Limit      int
}

// Query filters entries per filter, keeping at most the last Limit
// matches (0 means unlimited).
func Query(entries []Entry, filter QueryFilter) []Entry {
	var matched []Entry
	for _, e := range entries {
		if filter.EntryType != "" && e.EntryType != filter.EntryType {
			continue
		}
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.ResourceID != "" && e.ResourceID != filter.ResourceID {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		matched = append(matched, e)
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[len(matched)-filter.Limit:]
	}
	return matched
}

// ComplianceEvidence returns every ledger entry relevant to resourceID —
// the read-side query an auditor runs to answer "show me everything
// that happened to this incident/control" without a parallel store
// (SUPPLEMENTED FEATURES: Trust Ledger compliance evidence).
func ComplianceEvidence(entries []Entry, resourceID string) []Entry {
	return Query(entries, QueryFilter{ResourceID: resourceID})
}

// AuditReport summarizes a ledger for export, mirroring the original
// ledger's generate_audit_report.
type AuditReport struct {
	GeneratedAt   time.Time         `json:"generated_at"`
	ChainValid    bool              `json:"chain_valid"`
	TotalEntries  int               `json:"total_entries"`
	EntriesByType map[EntryType]int `json:"entries_by_type"`
	SampleEntries []Entry           `json:"sample_entries"`
}

// GenerateAuditReport builds an AuditReport over entries since the
// given time (zero value means "all time").
func GenerateAuditReport(entries []Entry, since time.Time) AuditReport {
	filtered := Query(entries, QueryFilter{Since: since})

	byType := make(map[EntryType]int)
	for _, e := range filtered {
		byType[e.EntryType]++
	}

	sampleStart := 0
	if len(filtered) > 10 {
		sampleStart = len(filtered) - 10
	}

	valid, _ := VerifyChain(entries)

	return AuditReport{
		GeneratedAt:   time.Now(),
		ChainValid:    valid,
		TotalEntries:  len(filtered),
		EntriesByType: byType,
		SampleEntries: filtered[sampleStart:],
	}
}
