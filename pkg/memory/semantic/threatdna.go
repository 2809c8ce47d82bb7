package semantic

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EffectivePolicyRecord is the subset of a policy memory record a
// Threat DNA export carries: just enough for a peer to reinforce its own
// policy confidence, without leaking the full policy configuration
// (SUPPLEMENTED FEATURES: Threat DNA export/import).
type EffectivePolicyRecord struct {
	RuleID     string  `json:"rule_id"`
	Outcome    string  `json:"outcome"` // "effective"
	Confidence float64 `json:"confidence"`
}

// ThreatDNA is the peer-exchange payload named but not shaped by §6
// (data/exports|imports/threat_dna/*.json): built by Store.Export, it
// combines this store's semantic facts with the policy rules the caller
// reports as effective.
type ThreatDNA struct {
	ExportedAt     time.Time                `json:"exported_at"`
	SourceInstance string                   `json:"source_instance"`
	Facts          []Fact                   `json:"facts"`
	EffectivePolicies []EffectivePolicyRecord `json:"effective_policies"`
}

// Export builds a ThreatDNA payload from every fact in s plus the
// effective policy records supplied by the caller (policy memory lives
// in a separate package; this keeps semantic from importing it).
func (s *Store) Export(sourceInstance string, effectivePolicies []EffectivePolicyRecord) ThreatDNA {
	s.mu.Lock()
	defer s.mu.Unlock()

	facts := make([]Fact, 0, len(s.facts))
	for _, f := range s.facts {
		facts = append(facts, *f)
	}

	return ThreatDNA{
		ExportedAt:        time.Now(),
		SourceInstance:    sourceInstance,
		Facts:             facts,
		EffectivePolicies: effectivePolicies,
	}
}

// WriteExportFile marshals dna to path as indented JSON.
func WriteExportFile(path string, dna ThreatDNA) error {
	data, err := json.MarshalIndent(dna, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling threat dna export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing threat dna export %s: %w", path, err)
	}
	return nil
}

// ReadImportFile loads a ThreatDNA payload from path.
func ReadImportFile(path string) (ThreatDNA, error) {
	var dna ThreatDNA
	data, err := os.ReadFile(path)
	if err != nil {
		return dna, fmt.Errorf("reading threat dna import %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &dna); err != nil {
		return dna, fmt.Errorf("corrupt threat dna import %s: %w", path, err)
	}
	return dna, nil
}

// Import merges an imported ThreatDNA's facts into s. Each imported fact
// is treated as one more piece of evidence: a fact with a matching
// fact_id is reinforced through the normal Reinforce arithmetic rather
// than overwritten, and a new fact_id is stored at the imported
// confidence (SUPPLEMENTED FEATURES: "never a direct overwrite").
func (s *Store) Import(dna ThreatDNA) error {
	for _, imported := range dna.Facts {
		if _, err := s.StoreFact(imported.FactID, imported.Category, imported.Content, imported.Confidence, imported.Metadata); err != nil {
			return fmt.Errorf("importing fact %s: %w", imported.FactID, err)
		}
	}
	return nil
}
