package analytics

import (
	"strings"

	"greentech/models"
)

// ApplyInsight layers an external insight over a computed result. A nil or
// incomplete insight leaves the result as computed.
func ApplyInsight(result models.AnalyticsResult, insight *models.Insight) models.AnalyticsResult {
	if !ValidInsight(insight) {
		return result
	}

	merged := make([]string, 0, len(insight.Recommendations)+len(result.Recommendations))
	seen := make(map[string]struct{}, cap(merged))
	for _, group := range [][]string{insight.Recommendations, result.Recommendations} {
		for _, rec := range group {
			rec = strings.TrimSpace(rec)
			if rec == "" {
				continue
			}
			if _, dup := seen[rec]; dup {
				continue
			}
			seen[rec] = struct{}{}
			merged = append(merged, rec)
		}
	}

	out := result
	out.Summary = strings.TrimSpace(insight.Summary)
	out.Recommendations = merged
	ins := *insight
	out.Insight = &ins
	return out
}

// ValidInsight requires a summary, at least one recommendation and a known risk level.
func ValidInsight(insight *models.Insight) bool {
	if insight == nil || strings.TrimSpace(insight.Summary) == "" {
		return false
	}
	hasRec := false
	for _, r := range insight.Recommendations {
		if strings.TrimSpace(r) != "" {
			hasRec = true
			break
		}
	}
	if !hasRec {
		return false
	}
	switch insight.RiskLevel {
	case models.RiskLow, models.RiskMedium, models.RiskHigh:
		return true
	}
	return false
}
