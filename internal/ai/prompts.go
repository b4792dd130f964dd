// prompts.go - Centralized prompt templates
package ai

import (
	"fmt"
	"strings"
)

// ============================================================================
// SECTION 1: VENDOR NAME
// ============================================================================

// VendorNameKey is the JSON key the vendor prompt asks the model to fill.
const VendorNameKey = "vendor_name"

// VendorNamePrompt asks the model for the entity that sent the document.
func VendorNamePrompt(fullText string) string {
	return fmt.Sprintf(
		"Return the vendor name, the entity sending the invoice, from the document text delimited by triple backticks, ```%s```. "+
			"Return in JSON format with key `%s`. All keys should have double quotes. "+
			"If no vendor can be identified return null for `%s`.",
		fullText, VendorNameKey, VendorNameKey,
	)
}

// VendorNameSchema is the JSON schema the vendor answer must satisfy.
const VendorNameSchema = `{
  "type": "object",
  "properties": {
    "vendor_name": {"type": ["string", "null"]}
  },
  "required": ["vendor_name"]
}`

// ============================================================================
// SECTION 2: TEXT EXTRACTION
// ============================================================================

// extractionEntityTypes are the entity types the extractor is asked to tag.
var extractionEntityTypes = []string{
	"supplier_name",
	"remit_to_name",
	"receiver_name",
	"ship_to_address",
	"invoice_id",
	"invoice_date",
	"total_amount",
}

// ExtractionPrompt asks the model to transcribe a construction document and
// tag the entities used for project and vendor matching.
func ExtractionPrompt() string {
	return `You are reading a construction document (invoice, bill or contract).

1. Transcribe ALL visible text into "full_text", top to bottom, left to right, keeping line breaks.
2. List the entities you can identify in "entities". Use only these types for "type": ` + strings.Join(extractionEntityTypes, ", ") + `.
   - "raw_value" is the text exactly as printed.
   - "normalized_value" is a cleaned form (for example an ISO date or a plain amount), or empty.
   - "confidence" is your confidence between 0 and 1 that the value is correct and correctly typed.
   - "page" is the 1-based page number.
3. The supplier is the company that SENDS the document. The receiver is the customer it is addressed to.

Return ONLY the JSON object.`
}
