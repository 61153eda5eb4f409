package core

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCleaners(t *testing.T) {
	tests := []struct {
		name  string
		clean func(string) string
		in    string
		want  string
	}{
		{"name title cased", CleanName, "  ada   LOVELACE ", "Ada Lovelace"},
		{"name drops digits and symbols", CleanName, "John3 Smith!!", "John Smith"},
		{"name word cap", CleanName, "a b c d e f g", "A B C D E"},
		{"name empty", CleanName, "1234", ""},
		{"email lowercased", CleanEmail, " ADA@Example.COM ", "ada@example.com"},
		{"email mailto prefix", CleanEmail, "mailto:x@y.io", "x@y.io"},
		{"email malformed", CleanEmail, "not-an-email", ""},
		{"email repeated mailto prefix", CleanEmail, "MAILTO: mailto:a@b.co", "a@b.co"},
		{"phone formatting stripped", CleanPhone, "(555) 010-0199", "5550100199"},
		{"phone keeps plus", CleanPhone, "+1 415 555 0100", "+14155550100"},
		{"phone too short", CleanPhone, "12-34", ""},
		{"phone too long", CleanPhone, strings.Repeat("9", 16), ""},
		{"linkedin adds scheme", CleanLinkedIn, "linkedin.com/in/ada", "https://linkedin.com/in/ada"},
		{"linkedin kept", CleanLinkedIn, "https://www.linkedin.com/in/ada", "https://www.linkedin.com/in/ada"},
		{"linkedin other domain", CleanLinkedIn, "https://example.com/ada", ""},
		{"experience number", CleanExperience, "5+ years", "5 Years"},
		{"experience decimal", CleanExperience, "about 2.5 yrs", "2.5 Years"},
		{"experience fresher", CleanExperience, "Fresher", "0 Years"},
		{"experience unknown", CleanExperience, "lots", ""},
		{"experience fresh graduate", CleanExperience, "fresh graduate", "0 Years"},
		{"experience fresh inside a word", CleanExperience, "Refresh cycle", ""},
		{"experience company name", CleanExperience, "Freshworks", ""},
		{"skills drop contacts", CleanSkills, "Go, , python ,a@b.com, www.x.com", "Go, python"},
		{"location punctuation", CleanLocation, " San Francisco, CA! ", "San Francisco, CA"},
		{"location trims separators", CleanLocation, ", Berlin -", "Berlin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.clean(tt.in)
			if got != tt.want {
				t.Errorf("clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := tt.clean(got); again != got {
				t.Errorf("clean is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestCleanFreeText(t *testing.T) {
	if got := CleanFreeText("Senior   Engineer <script>", 100); got != "Senior Engineer script" {
		t.Errorf("CleanFreeText() = %q", got)
	}
	if got := CleanFreeText("abcdef", 3); got != "abc" {
		t.Errorf("CleanFreeText(cap 3) = %q, want abc", got)
	}
	if got := CleanFreeText("C++ & Go/Rust (2020)", 0); got != "C++ & Go/Rust (2020)" {
		t.Errorf("CleanFreeText() dropped allowed punctuation: %q", got)
	}
}

func TestClean_Idempotent(t *testing.T) {
	longSkills := strings.Repeat("senior backend engineer building payment systems ", 4)

	inputs := []Candidate{
		{},
		{Name: "  ada   lovelace  ", Email: "ADA@EXAMPLE.COM", Phone: "+44 (20) 7946-0958"},
		{Name: "Experienced software engineer with ten years in fintech", Summary: "Jane Doe"},
		{Name: "Jane", JobTitle: "Austin, TX", Email: "j@x.io"},
		{Name: "Max", Skills: longSkills, Location: "Berlin", Phone: "5550100199"},
		{Name: "Max", Skills: longSkills + ", Munich", Phone: "5550100199"},
		{Name: "Émile Zola", Experience: "12 yrs", Skills: "Writing, mailto:e@z.fr", LinkedInURL: "linkedin.com/in/ez"},
		{Summary: strings.Repeat("word ", 400), Company: "ACME, Inc. <b>"},
	}

	for i, c := range inputs {
		once := Clean(c, nil)
		twice := Clean(once, nil)
		if once != twice {
			t.Errorf("input %d: Clean not idempotent\nonce:  %+v\ntwice: %+v", i, once, twice)
		}
	}
}

func FuzzClean(f *testing.F) {
	f.Add("ada lovelace", "mailto:mailto:a@b.co", "+44 (20) 7946-0958", "Austin, TX", "", "Go, python", "fresher", "linkedin.com/in/ada")
	f.Add("Experienced engineer with ten years in fintech and payments", "J@X.IO", "555", "", "Berlin", strings.Repeat("backend engineer ", 12), "3.5 yrs", "")
	f.Add("Émile Zola", "e@z.fr", "", "Writer", "", "Writing, mailto:e@z.fr", "Refresh", "https://example.com")

	f.Fuzz(func(t *testing.T, name, email, phone, jobTitle, location, skills, experience, linkedIn string) {
		// Rows reach the cleaners through the UTF-8 sanitizer.
		for _, s := range []string{name, email, phone, jobTitle, location, skills, experience, linkedIn} {
			if !utf8.ValidString(s) {
				t.Skip()
			}
		}
		c := Candidate{
			Name:        name,
			Email:       email,
			Phone:       phone,
			JobTitle:    jobTitle,
			Location:    location,
			Skills:      skills,
			Experience:  experience,
			LinkedInURL: linkedIn,
			Summary:     name,
		}
		once := Clean(c, nil)
		if twice := Clean(once, nil); twice != once {
			t.Errorf("Clean not idempotent\nonce:  %+v\ntwice: %+v", once, twice)
		}
	})
}
