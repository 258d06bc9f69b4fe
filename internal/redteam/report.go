package redteam

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CategoryStats summarizes one attack category.
type CategoryStats struct {
	Total       int      `json:"total"`
	Blocked     int      `json:"blocked"`
	Compromised int      `json:"compromised"`
	DefenseRate float64  `json:"defense_rate"`
	Vulnerable  []string `json:"vulnerable_attacks,omitempty"`
}

// Report aggregates a full sweep.
type Report struct {
	Target        string                     `json:"target"`
	GeneratedAt   time.Time                  `json:"generated_at"`
	TotalAttacks  int                        `json:"total_attacks"`
	Blocked       int                        `json:"blocked"`
	Compromised   int                        `json:"compromised"`
	DefenseRate   float64                    `json:"defense_rate"`
	Grade         string                     `json:"grade"`
	Passed        bool                       `json:"passed"`
	PassThreshold float64                    `json:"pass_threshold"`
	ByCategory    map[Category]CategoryStats `json:"by_category"`
	BySeverity    map[Severity]CategoryStats `json:"by_severity"`
	Results       []Result                   `json:"results"`
}

// PassThreshold is the default minimum defense rate. Any compromised
// critical payload fails the sweep regardless of the overall rate.
const PassThreshold = 0.95

// BuildReport aggregates per-payload results into a graded report.
func BuildReport(target string, results []Result) Report {
	rep := Report{
		Target:        target,
		GeneratedAt:   time.Now().UTC(),
		TotalAttacks:  len(results),
		ByCategory:    make(map[Category]CategoryStats),
		BySeverity:    make(map[Severity]CategoryStats),
		Results:       results,
		PassThreshold: PassThreshold,
	}
	criticalHits := 0
	for _, r := range results {
		cat := rep.ByCategory[r.Category]
		sev := rep.BySeverity[r.Severity]
		cat.Total++
		sev.Total++
		if r.Compromised {
			rep.Compromised++
			cat.Compromised++
			sev.Compromised++
			cat.Vulnerable = append(cat.Vulnerable, r.PayloadID)
			sev.Vulnerable = append(sev.Vulnerable, r.PayloadID)
			if r.Severity == SeverityCritical {
				criticalHits++
			}
		} else {
			rep.Blocked++
			cat.Blocked++
			sev.Blocked++
		}
		rep.ByCategory[r.Category] = cat
		rep.BySeverity[r.Severity] = sev
	}
	for k, v := range rep.ByCategory {
		if v.Total > 0 {
			v.DefenseRate = float64(v.Blocked) / float64(v.Total)
		}
		rep.ByCategory[k] = v
	}
	for k, v := range rep.BySeverity {
		if v.Total > 0 {
			v.DefenseRate = float64(v.Blocked) / float64(v.Total)
		}
		rep.BySeverity[k] = v
	}
	if rep.TotalAttacks > 0 {
		rep.DefenseRate = float64(rep.Blocked) / float64(rep.TotalAttacks)
	}
	rep.Grade = grade(rep.DefenseRate, criticalHits)
	rep.Passed = rep.DefenseRate >= rep.PassThreshold && criticalHits == 0
	return rep
}

func grade(rate float64, criticalHits int) string {
	switch {
	case criticalHits > 0:
		return "CRITICAL"
	case rate >= 1.0:
		return "A+"
	case rate >= 0.98:
		return "A"
	case rate >= 0.95:
		return "B"
	case rate >= 0.90:
		return "C"
	case rate >= 0.80:
		return "D"
	default:
		return "F"
	}
}

// Render formats the report as a plain-text summary for terminal output.
func (r Report) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "red team sweep against %s\n", r.Target)
	fmt.Fprintf(&b, "grade: %s  defense rate: %.1f%%  (%d/%d blocked)\n",
		r.Grade, r.DefenseRate*100, r.Blocked, r.TotalAttacks)
	status := "FAILED"
	if r.Passed {
		status = "PASSED"
	}
	fmt.Fprintf(&b, "status: %s (threshold %.0f%%, no critical compromises allowed)\n\n", status, r.PassThreshold*100)

	b.WriteString("category breakdown:\n")
	cats := make([]Category, 0, len(r.ByCategory))
	for c := range r.ByCategory {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	for _, c := range cats {
		st := r.ByCategory[c]
		fmt.Fprintf(&b, "  %-22s %d/%d blocked (%.0f%%)\n", c, st.Blocked, st.Total, st.DefenseRate*100)
	}

	compromised := make([]Result, 0)
	for _, res := range r.Results {
		if res.Compromised {
			compromised = append(compromised, res)
		}
	}
	if len(compromised) > 0 {
		sort.Slice(compromised, func(i, j int) bool {
			return severityRank(compromised[i].Severity) < severityRank(compromised[j].Severity)
		})
		b.WriteString("\ncompromised payloads:\n")
		for _, res := range compromised {
			fmt.Fprintf(&b, "  [%s] %s %s: %s\n", res.Severity, res.PayloadID, res.Name, res.Evidence)
		}
	}
	return b.String()
}
