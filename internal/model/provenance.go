package model

// SourceTag classifies how a record field's value was obtained.
type SourceTag string

const (
	// SourceUntagged means the record carries no provenance for the field.
	// Records produced before provenance tracking existed look like this.
	SourceUntagged SourceTag = ""
	SourceExplicit SourceTag = "explicit"
	SourceInferred SourceTag = "inferred"
	SourceUnknown  SourceTag = "unknown"
)

// ParseSourceTag maps a raw tag to a SourceTag. Matching is exact; any
// spelling other than the three known tags resolves to SourceUnknown.
func ParseSourceTag(s string) SourceTag {
	switch SourceTag(s) {
	case SourceUntagged, SourceExplicit, SourceInferred, SourceUnknown:
		return SourceTag(s)
	default:
		return SourceUnknown
	}
}

// Valid reports whether t is one of the known tags (untagged included).
func (t SourceTag) Valid() bool {
	switch t {
	case SourceUntagged, SourceExplicit, SourceInferred, SourceUnknown:
		return true
	}
	return false
}

// String returns the tag, or "untagged" for the empty tag.
func (t SourceTag) String() string {
	if t == SourceUntagged {
		return "untagged"
	}
	return string(t)
}
