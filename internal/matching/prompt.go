package matching

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/oppfinder/pipeline/internal/model"
)

//go:embed match_prompt.md
var matchPromptTemplate string

const (
	maxJustification = 500
	noProfileText    = "No profile information available"
)

var matchSchema = func() json.RawMessage {
	b, err := json.Marshal(map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"relevance_score", "justification"},
		"properties": map[string]any{
			"relevance_score": map[string]any{
				"type":        "number",
				"minimum":     0.0,
				"maximum":     10.0,
				"description": "How relevant this opportunity is to the user (0-10 scale)",
			},
			"justification": map[string]any{
				"type":        "string",
				"maxLength":   maxJustification,
				"description": "Brief explanation of why this score was given",
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return b
}()

func buildMatchPrompt(opp *model.Opportunity, user model.User) string {
	profile := strings.TrimSpace(user.ProfileText)
	if profile == "" && len(user.ProfileJSON) > 0 {
		if b, err := json.Marshal(user.ProfileJSON); err == nil {
			profile = string(b)
		}
	}
	if profile == "" {
		profile = noProfileText
	}

	var parts []string
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			parts = append(parts, label+": "+value)
		}
	}
	add("Title", opp.Title)
	add("Organization", opp.Organization)
	add("Description", opp.DescriptionEN)
	add("Work Mode", string(opp.WorkMode))
	add("Employment Type", string(opp.EmploymentType))
	add("Experience Level", string(opp.ExperienceLevel))

	var comp []string
	if opp.MinCompensation != nil && *opp.MinCompensation != 0 {
		comp = append(comp, fmt.Sprintf("min: %d", *opp.MinCompensation))
	}
	if opp.MaxCompensation != nil && *opp.MaxCompensation != 0 {
		comp = append(comp, fmt.Sprintf("max: %d", *opp.MaxCompensation))
	}
	if len(comp) > 0 {
		add("Compensation", strings.Join(comp, ", "))
	}

	prompt := strings.ReplaceAll(matchPromptTemplate, "{{USER_PROFILE}}", profile)
	prompt = strings.ReplaceAll(prompt, "{{OPPORTUNITY}}", strings.Join(parts, "\n"))
	return strings.TrimSpace(prompt)
}
