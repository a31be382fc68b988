package registry

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyCard = `{
  "id": "gross_margin",
  "name": "Gross Margin",
  "short_description": "Gross profit as a share of revenue",
  "domain": "profitability",
  "topic": "margins",
  "inputs": [
    {"name": "revenue", "type": "float", "description": "Net revenue"},
    {"name": "cogs", "type": "float", "description": "Cost of goods sold"}
  ],
  "output_var": "gross_margin",
  "sympy_formulas": [
    {"variable": "gross_profit", "formula": "revenue - cogs"},
    {"variable": "gross_margin", "formula": "gross_profit / revenue"}
  ],
  "tags": ["margin", "profitability"]
}`

func TestDecodeLegacyJSON(t *testing.T) {
	cards, err := DecodeCards("gross_margin.json", []byte(legacyCard))
	require.NoError(t, err)
	require.Len(t, cards, 1)

	c := cards[0]
	assert.Equal(t, "gross_margin", c.ID)
	assert.Equal(t, "Gross profit as a share of revenue", c.Description)
	require.Len(t, c.Steps, 2)
	assert.Equal(t, "revenue - cogs", c.Steps[0].Expression)
	assert.Equal(t, []string{"revenue", "cogs"}, c.RequiredInputs())
}

func TestDecodeYAMLList(t *testing.T) {
	doc := `
- id: a
  name: A
  inputs: [{name: x}]
  steps: [{variable: y, formula: "x + 1.0"}]
  output_var: y
- id: b
  name: B
  inputs: [{name: x, range: {min: 0, max: 10}}]
  steps: [{variable: y, formula: "x * 3.0"}]
  output_var: y
`
	cards, err := DecodeCards("list.yml", []byte(doc))
	require.NoError(t, err)
	require.Len(t, cards, 2)
	require.NotNil(t, cards[1].Inputs[0].Range)
	assert.Equal(t, 10.0, *cards[1].Inputs[0].Range.Max)
}

func TestDecodeRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"empty inputs", "a.json", `{"id":"a","name":"A","inputs":[],"steps":[{"variable":"y","formula":"1.0"}],"output_var":"y"}`},
		{"no formulas", "a.json", `{"id":"a","name":"A","inputs":[{"name":"x"}],"output_var":"y"}`},
		{"bad kind", "a.yaml", "id: a\nname: A\ninputs: [{name: x, kind: median}]\nsteps: [{variable: y, formula: x}]\noutput_var: y\n"},
		{"bad variable name", "a.json", `{"id":"a","name":"A","inputs":[{"name":"1x"}],"steps":[{"variable":"y","formula":"1.0"}],"output_var":"y"}`},
		{"unsupported extension", "a.toml", `id = "a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCards(tt.file, []byte(tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoadFSLexicalOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"b/second.json": {Data: []byte(`{"id":"second","name":"S","inputs":[{"name":"x"}],"steps":[{"variable":"y","formula":"x"}],"output_var":"y"}`)},
		"a/first.yaml":  {Data: []byte("id: first\nname: F\ninputs: [{name: x}]\nsteps: [{variable: y, formula: x}]\noutput_var: y\n")},
		"README.md":     {Data: []byte("ignored")},
	}
	cards, err := LoadFS(fsys)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "first", cards[0].ID)
	assert.Equal(t, "second", cards[1].ID)
}
