// Package priority orders failing CI jobs so that root-cause failures
// (compilation) are remediated before symptom failures (lint, tests).
package priority

import (
	"sort"
	"strings"
)

// Default is the priority of a job whose name matches no keyword.
const Default = 50

type rule struct {
	keywords []string
	priority int
}

// rules are evaluated in order; the first keyword match wins. More specific
// categories come before "test" so that "e2e-tests" ranks as e2e, not unit.
var rules = []rule{
	{keywords: []string{"build", "compile"}, priority: 100},
	{keywords: []string{"typecheck", "type-check", "type_check", "tsc", "types", "mypy"}, priority: 90},
	{keywords: []string{"lint", "format", "fmt", "vet"}, priority: 80},
	{keywords: []string{"integration"}, priority: 60},
	{keywords: []string{"e2e", "end-to-end", "cypress", "playwright"}, priority: 50},
	{keywords: []string{"coverage"}, priority: 40},
	{keywords: []string{"unit", "test", "spec"}, priority: 70},
}

// Of returns the remediation priority of a job name. Higher runs first.
func Of(name string) int {
	n := strings.ToLower(name)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(n, kw) {
				return r.priority
			}
		}
	}
	return Default
}

// Rank returns a copy of items ordered by descending priority of name(item).
// Items of equal priority keep their discovery order.
func Rank[T any](items []T, name func(T) string) []T {
	ranked := make([]T, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Of(name(ranked[i])) > Of(name(ranked[j]))
	})
	return ranked
}

// RankNames ranks plain job names.
func RankNames(names []string) []string {
	return Rank(names, func(s string) string { return s })
}
