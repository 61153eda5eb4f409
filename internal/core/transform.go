package core

import "strings"

// DefaultFallbackName labels accepted rows that have no usable name when the
// name requirement is disabled.
const DefaultFallbackName = "Unknown Candidate"

// Rejection is the reason code for a row that was not accepted.
type Rejection string

const (
	RejectMissingName   Rejection = "MISSING_NAME"
	RejectNoContactInfo Rejection = "NO_CONTACT_INFO"
)

// TransformOptions controls acceptance.
type TransformOptions struct {
	RequireName  bool
	FallbackName string
	Rules        []Rule // nil means DefaultRules
}

// DefaultTransformOptions requires a name and uses the default rule list.
func DefaultTransformOptions() TransformOptions {
	return TransformOptions{RequireName: true, FallbackName: DefaultFallbackName}
}

// Clean applies the cross-field rules and then every field cleaner.
// Clean(Clean(c)) == Clean(c).
func Clean(c Candidate, rules []Rule) Candidate {
	if rules == nil {
		rules = DefaultRules
	}
	c, _ = ApplyRules(c, rules)
	return cleanFields(c)
}

// Transform maps a raw row (source header -> raw value) through the mapping,
// cleans it and decides acceptance. An empty Rejection means accepted.
func Transform(raw map[string]string, mapping Mapping, opts TransformOptions) (Candidate, Rejection) {
	return Validate(Clean(FromRaw(raw, mapping), opts.Rules), opts)
}

// Validate applies the acceptance rule to a cleaned candidate.
func Validate(c Candidate, opts TransformOptions) (Candidate, Rejection) {
	if c.Name == "" {
		if opts.RequireName {
			return c, RejectMissingName
		}
		fallback := opts.FallbackName
		if fallback == "" {
			fallback = DefaultFallbackName
		}
		c.Name = CleanName(fallback)
	}
	if c.Email == "" && c.Phone == "" && c.LinkedInURL == "" {
		return c, RejectNoContactInfo
	}
	return c, ""
}

// FromRaw builds an uncleaned candidate from a raw row. Header lookup is exact
// first, then case-insensitive on trimmed names.
func FromRaw(raw map[string]string, mapping Mapping) Candidate {
	var c Candidate
	for field, header := range mapping {
		dst := c.field(field)
		if dst == nil || strings.TrimSpace(header) == "" {
			continue
		}
		if v, ok := raw[header]; ok {
			*dst = v
			continue
		}
		want := strings.TrimSpace(header)
		for k, v := range raw {
			if strings.EqualFold(strings.TrimSpace(k), want) {
				*dst = v
				break
			}
		}
	}
	return c
}

// RowMap pairs positional fields with headers. Missing trailing fields map to
// "", extra fields are dropped and a repeated header keeps its first column.
// Values pass through CleanCell.
func RowMap(headers, fields []string) map[string]string {
	m := make(map[string]string, len(headers))
	for i, h := range headers {
		if _, dup := m[h]; dup {
			continue
		}
		if i < len(fields) {
			m[h] = CleanCell(fields[i])
		} else {
			m[h] = ""
		}
	}
	return m
}
