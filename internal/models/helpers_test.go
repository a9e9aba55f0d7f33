package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "hello", "hello"},
		{"uppercase", "Hello World", "hello-world"},
		{"underscores", "my_doc_name", "my-doc-name"},
		{"special chars collapse", "Hello, World!", "hello-world"},
		{"numbers preserved", "doc-v2.1", "doc-v2-1"},
		{"empty string", "", ""},
		{"only special chars", "!@#$%", ""},
		{"consecutive spaces", "hello   world", "hello-world"},
		{"cyrillic kept", "Анализ ликвидности", "анализ-ликвидности"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"case and trim", "  Current Ratio ", "current ratio"},
		{"inner whitespace", "Current\t  Ratio", "current ratio"},
		{"yo folding", "Учётная политика", "учетная политика"},
		{"capital yo", "ЁМКОСТЬ рынка", "емкость рынка"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.b, NormalizeName(tt.a))
		})
	}
}

func TestNormalizeTermID(t *testing.T) {
	assert.Equal(t, "term_ebitda", NormalizeTermID("EBITDA"))
	assert.Equal(t, "term_учетная_политика", NormalizeTermID("Учётная политика"))
	assert.Equal(t, "term_net_debt", NormalizeTermID("term_net_debt"))
	assert.Equal(t, "term_roe_roa", NormalizeTermID("ROE / ROA"))
	assert.Empty(t, NormalizeTermID("  /  "))
}

func TestContentHashIgnoresWhitespaceLayout(t *testing.T) {
	a := ContentHash("Liquidity  analysis", "current\nratio")
	b := ContentHash("Liquidity analysis current ratio")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, ContentHash("Liquidity analysis quick ratio"))
}

func TestOutcomeExitCode(t *testing.T) {
	assert.Equal(t, 0, OutcomeSuccess.ExitCode())
	assert.Equal(t, 1, OutcomeExecutionError.ExitCode())
	assert.Equal(t, 2, OutcomeGateFailure.ExitCode())
}
