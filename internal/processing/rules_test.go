package processing

import (
	"strings"
	"testing"
	"time"

	"github.com/oppfinder/pipeline/internal/model"
)

func TestDetectClosed(t *testing.T) {
	tests := []struct {
		text  string
		want  bool
		match string
	}{
		{"‼️CLOSED‼️ Backend Engineer", true, "‼️closed‼️"},
		{"Position filled, thanks everyone", true, "position filled"},
		{"We are no longer accepting applications", true, "no longer accepting applications"},
		{"Backend Engineer wanted", false, ""},
	}
	for _, tt := range tests {
		got, match := DetectClosed(tt.text)
		if got != tt.want || match != tt.match {
			t.Fatalf("DetectClosed(%q) = %v %q, want %v %q", tt.text, got, match, tt.want, tt.match)
		}
	}
}

func TestApplyRulesInfersOnsite(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tax := testTaxonomy(false)

	opp := &model.Opportunity{WorkMode: model.WorkModeUnknown, LocationID: int64Ptr(2)}
	ApplyRules(opp, "Accountant in Addis Ababa", tax, now)
	if opp.WorkMode != model.WorkModeOnsite {
		t.Fatalf("expected ONSITE, got %s", opp.WorkMode)
	}

	opp = &model.Opportunity{WorkMode: model.WorkModeUnknown, LocationID: int64Ptr(2)}
	ApplyRules(opp, "Accountant, work from home possible", tax, now)
	if opp.WorkMode != model.WorkModeUnknown {
		t.Fatalf("remote keywords must block the inference, got %s", opp.WorkMode)
	}

	opp = &model.Opportunity{WorkMode: model.WorkModeUnknown}
	ApplyRules(opp, "Accountant", tax, now)
	if opp.WorkMode != model.WorkModeUnknown {
		t.Fatalf("no location means no inference, got %s", opp.WorkMode)
	}
}

func TestApplyRulesRemoteUsesCanonicalLocation(t *testing.T) {
	tax := testTaxonomy(true)
	opp := &model.Opportunity{WorkMode: model.WorkModeRemote, LocationID: int64Ptr(2)}
	ApplyRules(opp, "Fully remote role", tax, time.Now())

	if opp.LocationID == nil || *opp.LocationID != 50 {
		t.Fatalf("expected Remote location, got %v", opp.LocationID)
	}
	override := opp.Metadata.Section(model.MetaExtracted)["location_override"].(map[string]any)
	if override["original_location_name"] != "Ethiopia / Addis Ababa" || override["remote_location_id"] != int64(50) {
		t.Fatalf("unexpected override %v", override)
	}
	if v, _ := opp.Metadata.Flag(model.FlagRemoteLocationOverride); v != true {
		t.Fatalf("expected override flag")
	}

	// already pointing at Remote: nothing to record
	again := &model.Opportunity{WorkMode: model.WorkModeRemote, LocationID: int64Ptr(50)}
	ApplyRules(again, "Fully remote role", tax, time.Now())
	if _, ok := again.Metadata.Flag(model.FlagRemoteLocationOverride); ok {
		t.Fatalf("unexpected override on canonical location")
	}
}

func TestApplyRulesStatus(t *testing.T) {
	now := time.Date(2025, 3, 2, 15, 0, 0, 0, time.UTC)
	past := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	today := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	opp := &model.Opportunity{Deadline: &past, Status: model.OpportunityActive}
	ApplyRules(opp, "Engineer", nil, now)
	if opp.Status != model.OpportunityExpired {
		t.Fatalf("expected EXPIRED, got %s", opp.Status)
	}

	opp = &model.Opportunity{Deadline: &today, Status: model.OpportunityActive}
	ApplyRules(opp, "Engineer", nil, now)
	if opp.Status != model.OpportunityActive {
		t.Fatalf("deadline today is still open, got %s", opp.Status)
	}

	opp = &model.Opportunity{Deadline: &past, Status: model.OpportunityActive}
	ApplyRules(opp, "Engineer - vacancy filled", nil, now)
	if opp.Status != model.OpportunityArchived {
		t.Fatalf("closed posts are archived, got %s", opp.Status)
	}
	if v, _ := opp.Metadata.Flag(model.FlagClosedMatch); v != "vacancy filled" {
		t.Fatalf("unexpected closed match %v", v)
	}
}

func TestParseDeadline(t *testing.T) {
	tests := map[string]string{
		"Deadline: 2025-03-01":                  "2025-03-01",
		"Application deadline: March 5th, 2025": "2025-03-05",
		"DEADLINE - Sept 30 2024":               "2024-09-30",
		"deadline: February 30, 2025":           "",
		"deadline 2025-13-01":                   "",
		"apply by 2025-03-01":                   "",
		"deadline: Someday 3, 2025":             "",
	}
	for text, want := range tests {
		got := ParseDeadline(text)
		switch {
		case want == "" && got != nil:
			t.Fatalf("ParseDeadline(%q) = %v, want nil", text, got)
		case want != "" && (got == nil || got.Format(time.DateOnly) != want):
			t.Fatalf("ParseDeadline(%q) = %v, want %s", text, got, want)
		}
	}
}

func TestBuildExtractPromptEmbedsTaxonomy(t *testing.T) {
	prompt, err := buildExtractPrompt(testTaxonomy(true), "https://example.com/p/1", "Backend Engineer", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		`"opportunity_type_id":1`,
		`"domain__name":"Software"`,
		"https://example.com/p/1",
		"TEXT_EN:\nBackend Engineer",
		"OpType 'JOB' (id:1) -> Domain 'Software' (id:10)",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt is missing %q", want)
		}
	}
	if strings.Contains(prompt, `"Addis Ababa"`) {
		t.Fatalf("location limit not applied")
	}
}
