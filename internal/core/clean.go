package core

// clean.go holds the field-level cleaning functions applied to every candidate.
// Each function is idempotent: cleaning a cleaned value returns it unchanged.

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Field limits.
const (
	MaxNameWords     = 5
	MaxJobTitleRunes = 100
	MaxCompanyRunes  = 100
	MaxSummaryRunes  = 1000
	MinPhoneDigits   = 7
	MaxPhoneDigits   = 15
)

const freeTextPunct = ".,&/-+#()'"

const locationPunct = ",.-"

var (
	emailPattern      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	experiencePattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// CleanName keeps letters and spaces, collapses whitespace, caps the word
// count and title-cases the result.
func CleanName(s string) string {
	s = keepRunes(norm.NFC.String(s), func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsMark(r)
	}, "")
	words := strings.Fields(s)
	if len(words) > MaxNameWords {
		words = words[:MaxNameWords]
	}
	s = strings.Join(words, " ")
	if s == "" {
		return ""
	}
	return norm.NFC.String(cases.Title(language.Und).String(s))
}

// CleanFreeText keeps letters, digits, spaces and a small punctuation set,
// collapses whitespace and caps the length in runes.
func CleanFreeText(s string, maxRunes int) string {
	s = keepRunes(norm.NFC.String(s), func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
	}, freeTextPunct)
	s = strings.Join(strings.Fields(s), " ")
	if maxRunes > 0 {
		if rs := []rune(s); len(rs) > maxRunes {
			s = strings.TrimSpace(string(rs[:maxRunes]))
		}
	}
	return s
}

var fresherWords = []string{"fresh", "fresher"}

// CleanExperience normalizes to "<n> Years" from the first number, "0 Years"
// for fresher indicators, and "" otherwise.
func CleanExperience(s string) string {
	if n := experiencePattern.FindString(s); n != "" {
		return n + " Years"
	}
	if containsWord(s, fresherWords) {
		return "0 Years"
	}
	return ""
}

// CleanLinkedIn accepts only URLs on the linkedin.com domain and adds an
// https scheme when missing.
func CleanLinkedIn(s string) string {
	s = strings.Join(strings.Fields(s), "")
	lower := strings.ToLower(s)
	if !strings.Contains(lower, "linkedin.com") {
		return ""
	}
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + strings.TrimLeft(s, "/:")
	}
	return s
}

// CleanPhone keeps digits and a leading plus. Numbers outside 7-15 digits are
// cleared.
func CleanPhone(s string) string {
	s = strings.TrimSpace(s)
	plus := strings.HasPrefix(s, "+")

	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) < MinPhoneDigits || len(d) > MaxPhoneDigits {
		return ""
	}
	if plus {
		return "+" + d
	}
	return d
}

// CleanEmail lowercases and clears anything not shaped like local@domain.tld.
func CleanEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for strings.HasPrefix(s, "mailto:") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "mailto:"))
	}
	if !emailPattern.MatchString(s) {
		return ""
	}
	return s
}

// CleanSkills splits on commas, trims each token and drops tokens that look
// like emails or URLs.
func CleanSkills(s string) string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		tok = strings.Join(strings.Fields(tok), " ")
		if tok == "" || looksLikeContact(tok) {
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, ", ")
}

// CleanLocation keeps letters, spaces, commas, periods and hyphens.
func CleanLocation(s string) string {
	s = keepRunes(norm.NFC.String(s), func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsMark(r)
	}, locationPunct)
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " "+locationPunct)
}

func looksLikeContact(tok string) bool {
	lower := strings.ToLower(tok)
	return strings.Contains(lower, "@") ||
		strings.Contains(lower, "://") ||
		strings.HasPrefix(lower, "www.") ||
		strings.Contains(lower, "linkedin.com")
}

// keepRunes maps whitespace to a space and drops every rune for which keep
// returns false unless it appears in extra.
func keepRunes(s string, keep func(rune) bool, extra string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case keep(r), strings.ContainsRune(extra, r):
			return r
		}
		return -1
	}, s)
}

// cleanFields applies the field cleaners to every canonical field.
func cleanFields(c Candidate) Candidate {
	return Candidate{
		Name:        CleanName(c.Name),
		Email:       CleanEmail(c.Email),
		Phone:       CleanPhone(c.Phone),
		LinkedInURL: CleanLinkedIn(c.LinkedInURL),
		JobTitle:    CleanFreeText(c.JobTitle, MaxJobTitleRunes),
		Company:     CleanFreeText(c.Company, MaxCompanyRunes),
		Location:    CleanLocation(c.Location),
		City:        CleanLocation(c.City),
		State:       CleanLocation(c.State),
		Country:     CleanLocation(c.Country),
		Experience:  CleanExperience(c.Experience),
		Skills:      CleanSkills(c.Skills),
		Summary:     CleanFreeText(c.Summary, MaxSummaryRunes),
	}
}
