package ai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonUnmarshal(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"vendor_name": "Acme"}`, `{"vendor_name": "Acme"}`},
		{"json fence", "```json\n{\"vendor_name\": \"Acme\"}\n```", `{"vendor_name": "Acme"}`},
		{"bare fence", "```\n{\"vendor_name\":\n \"Acme\"}\n```", `{"vendor_name":  "Acme"}`},
		{"chatter around object", "Sure! Here it is: {\"vendor_name\": \"Acme\"} Hope that helps.", `{"vendor_name": "Acme"}`},
		{"no object", "no vendor", "no vendor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.in))
		})
	}
}

func TestFixJSONEscaping(t *testing.T) {
	raw := "{\"full_text\": \"line one\nline two\ttab\"}"
	var out struct {
		FullText string `json:"full_text"`
	}
	require.Error(t, jsonUnmarshal(raw, &out))
	require.NoError(t, jsonUnmarshal(fixJSONEscaping(raw), &out))
	assert.Equal(t, "line one\nline two\ttab", out.FullText)

	already := `{"a": "x\"y"}`
	assert.Equal(t, already, fixJSONEscaping(already))
}

func TestParseExtraction(t *testing.T) {
	text := "```json\n" + `{
		"full_text": "ACME LUMBER\nShip to: 12 Oak St",
		"entities": [
			{"type": "SUPPLIER_NAME", "raw_value": "ACME LUMBER", "normalized_value": "Acme Lumber", "confidence": "0.92", "page": 1},
			{"type": "ship_to_address", "raw_value": "12 Oak St", "confidence": 1.4, "page": 1},
			{"type": "", "raw_value": "dropped", "confidence": 0.5},
			{"type": "invoice_id", "raw_value": "  ", "confidence": 0.5}
		]
	}` + "\n```"

	ex, err := parseExtraction(text)
	require.NoError(t, err)
	assert.Equal(t, "ACME LUMBER\nShip to: 12 Oak St", ex.FullText)
	require.Len(t, ex.Entities, 2)

	assert.Equal(t, "supplier_name", ex.Entities[0].TypeMajor)
	assert.Equal(t, "Acme Lumber", ex.Entities[0].Value())
	assert.InDelta(t, 0.92, ex.Entities[0].Confidence, 1e-9)

	assert.Nil(t, ex.Entities[1].NormalizedValue)
	assert.Equal(t, 1.0, ex.Entities[1].Confidence)

	_, err = parseExtraction("not json")
	var me *MalformedResponseError
	assert.ErrorAs(t, err, &me)
}
