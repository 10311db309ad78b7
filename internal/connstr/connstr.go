// Package connstr builds libpq-style key=value connection strings.
package connstr

import (
	"strconv"
	"strings"
)

// Quote returns v as a connection string value. Values that are empty or
// contain a space, a single quote or a backslash are single-quoted with
// quotes and backslashes escaped.
func Quote(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\\t\n") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Builder accumulates key=value pairs in insertion order.
type Builder struct {
	parts []string
}

// Add appends key=value. Empty values are skipped.
func (b *Builder) Add(key, value string) *Builder {
	if value != "" {
		b.parts = append(b.parts, key+"="+Quote(value))
	}
	return b
}

// AddInt appends key=value for a non-zero value.
func (b *Builder) AddInt(key string, value int) *Builder {
	if value != 0 {
		b.parts = append(b.parts, key+"="+strconv.Itoa(value))
	}
	return b
}

// String returns the space-separated pairs.
func (b *Builder) String() string {
	return strings.Join(b.parts, " ")
}
