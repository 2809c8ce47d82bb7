// Package distiller implements the Knowledge Distiller: an offline pass
// that compresses resolved incidents from the Episodic Store into
// semantic rules of thumb (§4.5).
package distiller

import (
	"fmt"

	"github.com/codeready-toolchain/opsagent/pkg/memory/episodic"
	"github.com/codeready-toolchain/opsagent/pkg/memory/semantic"
)

const (
	minSamplesForRule = 3
	effectiveRate      = 0.80
	ineffectiveRate    = 0.20
	effectiveBaseConf  = 0.85
	ineffectiveConf    = 0.80
	sequenceConf       = 0.70
	minSequenceCount   = 3
	sampleBoostCeiling = 10
	sampleBoostPerUnit = 0.01
)

// Distiller reads resolved incidents from an episodic store and writes
// the patterns it finds into a semantic store.
type Distiller struct {
	episodic *episodic.Store
	semantic *semantic.Store
}

// New builds a Distiller over the given stores.
func New(episodicStore *episodic.Store, semanticStore *semantic.Store) *Distiller {
	return &Distiller{episodic: episodicStore, semantic: semanticStore}
}

// Summary reports what a distillation pass found, for logging/CLI output.
type Summary struct {
	IncidentsScanned int
	FactsEmitted     int
}

type toolStat struct {
	success int
	total   int
}

// DistillDaily scans every resolved incident once and emits semantic
// facts for tools that are clearly effective, clearly ineffective, or
// that reliably follow one another (§4.5: "daily distillation").
func (d *Distiller) DistillDaily() (Summary, error) {
	incidents, err := d.episodic.ListByOutcome(episodic.Resolved)
	if err != nil {
		return Summary{}, fmt.Errorf("listing resolved incidents: %w", err)
	}
	summary := Summary{IncidentsScanned: len(incidents)}
	if len(incidents) == 0 {
		return summary, nil
	}

	toolStats := map[string]*toolStat{}
	bigramCounts := map[[2]string]int{}

	for _, incident := range incidents {
		var toolSequence []string
		for _, ep := range incident.Episodes {
			tool, _ := ep.ActionTaken["tool"].(string)
			if tool == "" {
				continue
			}
			toolSequence = append(toolSequence, tool)

			stat, ok := toolStats[tool]
			if !ok {
				stat = &toolStat{}
				toolStats[tool] = stat
			}
			stat.total++
			if success, _ := ep.Outcome["success"].(bool); success {
				stat.success++
			}
		}
		for i := 0; i+1 < len(toolSequence); i++ {
			bigramCounts[[2]string{toolSequence[i], toolSequence[i+1]}]++
		}
	}

	for tool, stat := range toolStats {
		if stat.total < minSamplesForRule {
			continue
		}
		rate := float64(stat.success) / float64(stat.total)

		switch {
		case rate > effectiveRate:
			boost := min(stat.total, sampleBoostCeiling)
			content := fmt.Sprintf("Tool '%s' is highly effective (%.0f%%) for resolving incidents.", tool, rate*100)
			if _, err := d.semantic.StoreFact(
				"rule_tool_"+tool+"_effectiveness", "tool_effectiveness", content,
				effectiveBaseConf+float64(boost)*sampleBoostPerUnit, nil,
			); err != nil {
				return summary, fmt.Errorf("storing effectiveness rule for %s: %w", tool, err)
			}
			summary.FactsEmitted++
		case rate < ineffectiveRate:
			content := fmt.Sprintf("Tool '%s' rarely works (%.0f%%). Avoid unless necessary.", tool, rate*100)
			if _, err := d.semantic.StoreFact(
				"rule_tool_"+tool+"_ineffective", "tool_effectiveness", content, ineffectiveConf, nil,
			); err != nil {
				return summary, fmt.Errorf("storing ineffectiveness rule for %s: %w", tool, err)
			}
			summary.FactsEmitted++
		}
	}

	for pair, count := range bigramCounts {
		if count < minSequenceCount {
			continue
		}
		t1, t2 := pair[0], pair[1]
		content := fmt.Sprintf("After using '%s', consider using '%s'. This sequence appeared %d times in resolved incidents.", t1, t2, count)
		if _, err := d.semantic.StoreFact(
			"rule_seq_"+t1+"_"+t2, "recommendation", content, sequenceConf, nil,
		); err != nil {
			return summary, fmt.Errorf("storing sequence rule for %s->%s: %w", t1, t2, err)
		}
		summary.FactsEmitted++
	}

	return summary, nil
}
