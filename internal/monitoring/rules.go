package monitoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/sells-group/tariff-map/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertUnmatchedIdentities AlertType = "unmatched_identities"
	AlertSourceFailure       AlertType = "source_failure"
	AlertBreakerOpen         AlertType = "breaker_open"
)

// Alert is one condition worth telling an operator about.
type Alert struct {
	Type     AlertType      `json:"type"`
	Severity string         `json:"severity"`
	Source   string         `json:"source,omitempty"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	At       time.Time      `json:"at"`
}

// Rules turns two consecutive snapshots into alerts. Every rule fires on
// the transition into a bad state, so a condition that persists across
// checks alerts once.
type Rules struct {
	// UnmatchedThreshold is the dropped-record count above which the
	// registry is considered out of date. Zero disables the rule.
	UnmatchedThreshold int

	now func() time.Time
}

// RulesFromConfig reads the thresholds of the monitoring section.
func RulesFromConfig(cfg config.MonitoringConfig) Rules {
	return Rules{UnmatchedThreshold: cfg.UnmatchedThreshold}
}

// Evaluate returns the alerts for conditions that began between prev and
// cur, ordered by type then source.
func (r Rules) Evaluate(prev, cur Snapshot) []Alert {
	now := time.Now().UTC()
	if r.now != nil {
		now = r.now()
	}

	var alerts []Alert
	if t := r.UnmatchedThreshold; t > 0 {
		if n := cur.UnmatchedTotal(); n > t && prev.UnmatchedTotal() <= t {
			alerts = append(alerts, Alert{
				Type:     AlertUnmatchedIdentities,
				Severity: "medium",
				Message:  fmt.Sprintf("%d records did not resolve to a country (threshold %d)", n, t),
				Details:  map[string]any{"unmatched": cur.Unmatched, "threshold": t},
				At:       now,
			})
		}
	}

	for _, src := range sortedKeys(cur.Failed) {
		if delta := cur.Failed[src] - prev.Failed[src]; delta > 0 {
			alerts = append(alerts, Alert{
				Type:     AlertSourceFailure,
				Severity: "high",
				Source:   src,
				Message:  fmt.Sprintf("source %s failed %d time(s) since last check", src, delta),
				Details:  map[string]any{"failures": delta, "total": cur.Failed[src]},
				At:       now,
			})
		}
	}

	for _, src := range sortedKeys(cur.Breakers) {
		if cur.Breakers[src] == "open" && prev.Breakers[src] != "open" {
			alerts = append(alerts, Alert{
				Type:     AlertBreakerOpen,
				Severity: "high",
				Source:   src,
				Message:  fmt.Sprintf("circuit breaker for source %s opened; the map shows it as missing", src),
				At:       now,
			})
		}
	}
	return alerts
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
