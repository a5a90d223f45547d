// Package gate implements the eight boundary enforcement checks. Each
// factory closes over its configuration and returns a crossing.Gate;
// the orchestrator runs them in list order and propagates the first
// failure unchanged. Every external dependency fails closed: an
// unavailable lookup denies the crossing, it never assumes safety.
package gate

import "sort"

func boolPtr(b bool) *bool          { return &b }
func int64Ptr(v int64) *int64       { return &v }
func float64Ptr(v float64) *float64 { return &v }

func sortedCopy(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
