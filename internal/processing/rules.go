package processing

import (
	"strings"
	"time"

	"github.com/oppfinder/pipeline/internal/model"
)

var closedPatterns = []string{
	"‼️closed‼️",
	"closed",
	"#closed",
	"vacancy filled",
	"position filled",
	"role filled",
	"hiring closed",
	"applications closed",
	"application closed",
	"no longer accepting applications",
	"no longer accepting",
	"we are no longer accepting",
	"this vacancy is closed",
}

var remoteKeywords = []string{
	"remote",
	"work from home",
	"wfh",
	"home-based",
	"home based",
	"fully remote",
	"remotely",
}

// DetectClosed reports whether text announces that the posting is closed and
// returns the first matching phrase.
func DetectClosed(text string) (bool, string) {
	t := strings.ToLower(text)
	for _, p := range closedPatterns {
		if strings.Contains(t, p) {
			return true, p
		}
	}
	return false, ""
}

// MentionsRemote reports whether text contains a remote-work keyword.
func MentionsRemote(text string) bool {
	t := strings.ToLower(text)
	for _, k := range remoteKeywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

// ApplyRules runs the deterministic post-extraction rules on opp. sourceText
// is the original post (or its English text when the original is empty).
func ApplyRules(opp *model.Opportunity, sourceText string, tax *model.Taxonomy, now time.Time) {
	if opp.Metadata == nil {
		opp.Metadata = model.Metadata{}
	}
	if opp.Status == "" {
		opp.Status = model.OpportunityActive
	}

	if opp.WorkMode == model.WorkModeRemote && tax != nil {
		applyRemoteLocation(opp, tax)
	}

	if opp.WorkMode == model.WorkModeUnknown && opp.LocationID != nil && !MentionsRemote(sourceText) {
		opp.WorkMode = model.WorkModeOnsite
	}
	opp.IsRemote = opp.WorkMode == model.WorkModeRemote

	if closed, match := DetectClosed(sourceText); closed {
		opp.Status = model.OpportunityArchived
		opp.Metadata.SetFlag(model.FlagClosedDetected, true)
		opp.Metadata.SetFlag(model.FlagClosedMatch, match)
	} else if opp.Deadline != nil && opp.Deadline.Before(today(now)) {
		opp.Status = model.OpportunityExpired
	}

	opp.Metadata.Prune()
}

// applyRemoteLocation points a remote opportunity at the canonical Remote
// location, or clears the location when no such node exists.
func applyRemoteLocation(opp *model.Opportunity, tax *model.Taxonomy) {
	remote, ok := tax.RemoteLocation()
	if ok && (opp.LocationID == nil || *opp.LocationID != remote.ID) {
		override := originalLocation(opp, tax)
		override["remote_location_id"] = remote.ID
		override["remote_location_name"] = tax.LocationPath(remote.ID)
		id := remote.ID
		opp.LocationID = &id
		recordOverride(opp, override)
		return
	}
	if !ok && opp.LocationID != nil {
		override := originalLocation(opp, tax)
		override["remote_location_id"] = nil
		override["remote_location_name"] = nil
		opp.LocationID = nil
		recordOverride(opp, override)
	}
}

func originalLocation(opp *model.Opportunity, tax *model.Taxonomy) map[string]any {
	if opp.LocationID == nil {
		return map[string]any{"original_location_id": nil, "original_location_name": nil}
	}
	return map[string]any{
		"original_location_id":   *opp.LocationID,
		"original_location_name": tax.LocationPath(*opp.LocationID),
	}
}

func recordOverride(opp *model.Opportunity, override map[string]any) {
	opp.Metadata.SetFlag(model.FlagRemoteLocationOverride, true)
	opp.Metadata.Section(model.MetaExtracted)["location_override"] = override
}

func today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
