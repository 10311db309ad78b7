package connstr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "", want: "''"},
		{in: "two words", want: "'two words'"},
		{in: "it's", want: `'it\'s'`},
		{in: `back\slash`, want: `'back\\slash'`},
		{in: "tab\there", want: "'tab\there'"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Quote(tt.in))
		})
	}
}

func TestBuilder(t *testing.T) {
	var b Builder
	b.Add("host", "db host").AddInt("port", 8629).Add("dbname", "").AddInt("connect_timeout", 0).Add("password", "p'w")

	assert.Equal(t, `host='db host' port=8629 password='p\'w'`, b.String())
	assert.Empty(t, new(Builder).String())
}
