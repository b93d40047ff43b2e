package source

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PatchField rewrites a single field of an opaque QueryParams payload
// without a full unmarshal/remarshal round trip. Used by reformulation to
// fix one offending field reported by a validation error (http 400/422)
// while leaving every other field byte-for-byte as the LLM originally
// produced it.
func PatchField(params QueryParams, path string, value any) (QueryParams, error) {
	patched, err := sjson.SetBytes([]byte(params), path, value)
	if err != nil {
		return nil, err
	}
	return QueryParams(patched), nil
}

// FieldString inspects a single field of an opaque QueryParams payload
// without a target struct, used to decide whether a field needs patching
// (e.g. detecting the literal string "null" historically emitted in place
// of an absent date).
func FieldString(params QueryParams, path string) (string, bool) {
	res := gjson.GetBytes([]byte(params), path)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

// HasLiteralNull reports whether the named field holds the literal string
// "null" rather than a JSON null or an absent key — the historical footgun
// some source adapters produced when the LLM left a date blank.
func HasLiteralNull(params QueryParams, path string) bool {
	v, ok := FieldString(params, path)
	return ok && v == "null"
}
