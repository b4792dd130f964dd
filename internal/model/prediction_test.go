package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectRecordDocument(t *testing.T) {
	p := ProjectRecord{
		Supervisor:      "Dana Ruiz",
		Address:         "123 Main St",
		ClientFirstName: "Pat",
		ClientLastName:  " Lee ",
	}
	assert.Equal(t, "Dana Ruiz 123 Main St Pat Lee", p.Document())
	assert.Equal(t, "Lee", p.Owner())

	assert.Equal(t, "", ProjectRecord{}.Document())
}

func TestUnknownProjectSerialisesNulls(t *testing.T) {
	raw, err := json.Marshal(UnknownProject(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":null,"address":null,"uuid":null,"score":null,"top_scores":[]}`, string(raw))
	assert.True(t, UnknownProject(nil).IsUnknown())
}

func TestVendorPredictionEqual(t *testing.T) {
	a := VendorPrediction{
		SupplierName:    StringPtr("Acme"),
		MatchConfidence: Float64Ptr(0.9),
		ExternalID:      StringPtr("ext-1"),
		InternalUUID:    StringPtr("v-1"),
		Source:          SourceEntity,
	}
	b := a
	b.SupplierName = StringPtr("Acme")
	assert.True(t, a.Equal(b))

	b.MatchConfidence = nil
	assert.False(t, a.Equal(b))

	assert.True(t, UnmatchedVendor(RawVendorGuess{}).Equal(VendorPrediction{}))
}

func TestExtractedEntityValue(t *testing.T) {
	e := ExtractedEntity{RawValue: "ACME CORP."}
	assert.Equal(t, "ACME CORP.", e.Value())

	e.NormalizedValue = StringPtr("Acme Corp")
	assert.Equal(t, "Acme Corp", e.Value())
}
