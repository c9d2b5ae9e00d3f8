package alerts

import (
	"sort"
	"strings"
)

// VulnCount is one deduplicated vulnerability with its occurrence count.
type VulnCount struct {
	Name  string `json:"name"`
	Risk  string `json:"risk"`
	Count int    `json:"count"`
}

// RankVulnerabilities groups findings by (risk, name) and orders them by
// severity (High first), then count descending, then name ascending. The
// ordering is deterministic so repeated reports over the same findings are
// stable.
func RankVulnerabilities(findings []Finding) []VulnCount {
	if len(findings) == 0 {
		return nil
	}

	type key struct {
		risk string
		name string
	}
	counter := make(map[key]int)
	for _, f := range findings {
		name := strings.TrimSpace(f.Alert)
		if name == "" {
			name = "Unknown"
		}
		counter[key{risk: normalizeRisk(f.Risk), name: name}]++
	}

	out := make([]VulnCount, 0, len(counter))
	for k, n := range counter {
		out = append(out, VulnCount{Name: k.name, Risk: k.risk, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := riskOrder[out[i].Risk], riskOrder[out[j].Risk]
		if ri != rj {
			return ri < rj
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}
