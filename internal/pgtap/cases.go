// Package pgtap discovers pgTAP test case files and drives pg_prove over them.
package pgtap

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// CaseExt is the file extension of test case files.
const CaseExt = ".sql"

// Case is one test case file.
type Case struct {
	Name string // file name without extension
	Path string
}

// Group is a set of cases sharing a name prefix.
type Group struct {
	Prefix string
	Cases  []Case
}

// Discover returns the test cases in dir, sorted by name.
func Discover(dir string) ([]Case, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read test cases directory: %w", err)
	}

	var cases []Case
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), CaseExt) {
			continue
		}
		cases = append(cases, Case{
			Name: strings.TrimSuffix(e.Name(), CaseExt),
			Path: filepath.Join(dir, e.Name()),
		})
	}

	sort.Slice(cases, func(i, j int) bool { return cases[i].Name < cases[j].Name })
	return cases, nil
}

// Select returns the cases whose file name matches any keyword. Keywords
// are literal substrings unless regex is set. No keywords selects everything.
// Each case appears at most once and the input order is kept.
func Select(cases []Case, keywords []string, regex bool) ([]Case, error) {
	if len(keywords) == 0 {
		return cases, nil
	}

	patterns := make([]*regexp.Regexp, 0, len(keywords))
	for _, kw := range keywords {
		expr := kw
		if !regex {
			expr = regexp.QuoteMeta(kw)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid keyword pattern %q: %w", kw, err)
		}
		patterns = append(patterns, re)
	}

	var out []Case
	for _, c := range cases {
		file := filepath.Base(c.Path)
		for _, re := range patterns {
			if re.MatchString(file) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// GroupCases groups cases by the part of their name before the first underscore.
// Groups are sorted by prefix.
func GroupCases(cases []Case) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, c := range cases {
		prefix, _, _ := strings.Cut(c.Name, "_")
		i, ok := index[prefix]
		if !ok {
			i = len(groups)
			index[prefix] = i
			groups = append(groups, Group{Prefix: prefix})
		}
		groups[i].Cases = append(groups[i].Cases, c)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Prefix < groups[j].Prefix })
	return groups
}

// Paths returns the file paths of cases.
func Paths(cases []Case) []string {
	out := make([]string, len(cases))
	for i, c := range cases {
		out[i] = c.Path
	}
	return out
}
