package core

import (
	"slices"
	"strings"
	"testing"
)

func TestDefaultRules(t *testing.T) {
	longSkills := strings.Repeat("senior backend engineer building payment systems ", 4)

	tests := []struct {
		name      string
		in        Candidate
		wantFired []string
		check     func(t *testing.T, c Candidate)
	}{
		{
			name:      "summary in name column is swapped",
			in:        Candidate{Name: "Experienced software engineer with ten years in fintech", Summary: "Jane Doe"},
			wantFired: []string{"swap_name_summary"},
			check: func(t *testing.T, c Candidate) {
				if c.Name != "Jane Doe" || !strings.HasPrefix(c.Summary, "Experienced") {
					t.Errorf("after swap: name %q, summary %q", c.Name, c.Summary)
				}
			},
		},
		{
			name: "long name without summary words stays",
			in:   Candidate{Name: "Maria de los Angeles Garcia Lopez"},
		},
		{
			name:      "location in job title column moves",
			in:        Candidate{JobTitle: "Austin, TX"},
			wantFired: []string{"job_title_to_location"},
			check: func(t *testing.T, c Candidate) {
				if c.Location != "Austin, TX" || c.JobTitle != "" {
					t.Errorf("after move: location %q, job title %q", c.Location, c.JobTitle)
				}
			},
		},
		{
			name: "job title kept when location present",
			in:   Candidate{JobTitle: "Austin, TX", Location: "Dallas"},
		},
		{
			name: "plain job title kept",
			in:   Candidate{JobTitle: "Backend Engineer"},
		},
		{
			name:      "long role-like skills become job title",
			in:        Candidate{Skills: longSkills, Location: "Berlin"},
			wantFired: []string{"skills_to_job_title"},
			check: func(t *testing.T, c Candidate) {
				if c.JobTitle == "" || c.Skills != "" {
					t.Errorf("after move: job title %q, skills %q", c.JobTitle, c.Skills)
				}
			},
		},
		{
			name: "short skills stay",
			in:   Candidate{Skills: "Go, Kubernetes, engineer"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fired := ApplyRules(tt.in, DefaultRules)
			if !slices.Equal(fired, tt.wantFired) {
				t.Errorf("fired = %v, want %v", fired, tt.wantFired)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
			if len(tt.wantFired) == 0 && got != tt.in {
				t.Errorf("candidate changed without a rule firing: %+v", got)
			}
		})
	}
}

func TestApplyRules_Order(t *testing.T) {
	var order []string
	rule := func(name string) Rule {
		return Rule{
			Name:    name,
			Applies: func(c *Candidate) bool { return true },
			Apply:   func(c *Candidate) { order = append(order, name) },
		}
	}

	_, fired := ApplyRules(Candidate{}, []Rule{rule("first"), rule("second")})
	if !slices.Equal(order, []string{"first", "second"}) || !slices.Equal(fired, order) {
		t.Errorf("order = %v, fired = %v", order, fired)
	}
}
