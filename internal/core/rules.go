package core

import "strings"

// Rule is one cross-field heuristic. Apply runs only when Applies holds.
// Preconditions look at cleaned views of the fields so that a cleaned
// candidate never triggers a rule a second time.
type Rule struct {
	Name    string
	Applies func(c *Candidate) bool
	Apply   func(c *Candidate)
}

// LongSkillsRunes is the length above which skills text may be a misplaced job title.
const LongSkillsRunes = 150

var summaryWords = []string{
	"experience", "experienced", "years", "professional", "skilled", "passionate",
	"responsible", "worked", "working", "expertise", "seeking", "motivated",
	"dedicated", "background", "proficient",
}

var roleWords = []string{
	"engineer", "developer", "manager", "analyst", "consultant", "designer",
	"architect", "lead", "director", "specialist", "administrator", "intern",
	"executive", "officer", "scientist",
}

var locationWords = []string{"city", "state", "country"}

// DefaultRules is the ordered heuristic list applied before field cleaning.
var DefaultRules = []Rule{
	{
		Name: "swap_name_summary",
		Applies: func(c *Candidate) bool {
			return len(strings.Fields(c.Name)) > MaxNameWords && containsWord(c.Name, summaryWords)
		},
		Apply: func(c *Candidate) {
			c.Name, c.Summary = c.Summary, c.Name
		},
	},
	{
		Name: "job_title_to_location",
		Applies: func(c *Candidate) bool {
			jt := CleanFreeText(c.JobTitle, MaxJobTitleRunes)
			return CleanLocation(c.Location) == "" && movesToLocation(jt)
		},
		Apply: func(c *Candidate) {
			c.Location = CleanFreeText(c.JobTitle, MaxJobTitleRunes)
			c.JobTitle = ""
		},
	},
	{
		Name: "skills_to_job_title",
		Applies: func(c *Candidate) bool {
			if CleanFreeText(c.JobTitle, MaxJobTitleRunes) != "" {
				return false
			}
			skills := CleanSkills(c.Skills)
			if len([]rune(skills)) <= LongSkillsRunes || !containsWord(skills, roleWords) {
				return false
			}
			// The moved text must not look like a location the next pass would move again.
			return CleanLocation(c.Location) != "" || !movesToLocation(CleanFreeText(skills, MaxJobTitleRunes))
		},
		Apply: func(c *Candidate) {
			c.JobTitle = CleanSkills(c.Skills)
			c.Skills = ""
		},
	},
}

// ApplyRules evaluates rules in order on a copy of c and returns the result
// with the names of the rules that fired.
func ApplyRules(c Candidate, rules []Rule) (Candidate, []string) {
	var fired []string
	for _, r := range rules {
		if r.Applies(&c) {
			r.Apply(&c)
			fired = append(fired, r.Name)
		}
	}
	return c, fired
}

func movesToLocation(jt string) bool {
	return isLocationShaped(jt) && CleanLocation(jt) != ""
}

func isLocationShaped(s string) bool {
	if strings.Contains(s, ",") {
		return true
	}
	return containsWord(s, locationWords)
}

// containsWord reports whether any of words appears as a whole word in s,
// case-insensitively.
func containsWord(s string, words []string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r < 0x80
	})
	for _, t := range tokens {
		for _, w := range words {
			if t == w {
				return true
			}
		}
	}
	return false
}
