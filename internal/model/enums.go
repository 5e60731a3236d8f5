package model

import (
	"fmt"
	"strings"
)

// RawStatus is the processing state of a RawOpportunity.
type RawStatus string

const (
	RawNew        RawStatus = "NEW"
	RawTranslated RawStatus = "TRANSLATED"
	RawProcessing RawStatus = "PROCESSING"
	RawExtracted  RawStatus = "EXTRACTED"
	RawFailed     RawStatus = "FAILED"
)

// Terminal reports whether no further automatic processing happens for s.
func (s RawStatus) Terminal() bool {
	return s == RawExtracted || s == RawFailed
}

type OpportunityStatus string

const (
	OpportunityActive   OpportunityStatus = "ACTIVE"
	OpportunityExpired  OpportunityStatus = "EXPIRED"
	OpportunityArchived OpportunityStatus = "ARCHIVED"
)

type MatchStatus string

const (
	MatchActive   MatchStatus = "ACTIVE"
	MatchNotified MatchStatus = "NOTIFIED"
	MatchIgnored  MatchStatus = "IGNORED"
	MatchExpired  MatchStatus = "EXPIRED"
)

type SourceType string

const (
	SourceTelegram SourceType = "TELEGRAM"
	SourceRSS      SourceType = "RSS"
	SourceWeb      SourceType = "WEB"
)

// ParseSourceType accepts any letter case.
func ParseSourceType(s string) (SourceType, error) {
	switch t := SourceType(strings.ToUpper(strings.TrimSpace(s))); t {
	case SourceTelegram, SourceRSS, SourceWeb:
		return t, nil
	}
	return "", fmt.Errorf("unknown source type %q", s)
}

// WorkMode is shared by opportunities (which may be UNKNOWN) and match
// preferences (which may be ANY).
type WorkMode string

const (
	WorkModeAny     WorkMode = "ANY"
	WorkModeUnknown WorkMode = "UNKNOWN"
	WorkModeRemote  WorkMode = "REMOTE"
	WorkModeOnsite  WorkMode = "ONSITE"
	WorkModeHybrid  WorkMode = "HYBRID"
)

type EmploymentType string

const (
	EmploymentAny        EmploymentType = "ANY"
	EmploymentUnknown    EmploymentType = "UNKNOWN"
	EmploymentFullTime   EmploymentType = "FULL_TIME"
	EmploymentPartTime   EmploymentType = "PART_TIME"
	EmploymentContract   EmploymentType = "CONTRACT"
	EmploymentInternship EmploymentType = "INTERNSHIP"
)

type ExperienceLevel string

const (
	ExperienceAny      ExperienceLevel = "ANY"
	ExperienceUnknown  ExperienceLevel = "UNKNOWN"
	ExperienceStudent  ExperienceLevel = "STUDENT"
	ExperienceGraduate ExperienceLevel = "GRADUATE"
	ExperienceJunior   ExperienceLevel = "JUNIOR"
	ExperienceMid      ExperienceLevel = "MID"
	ExperienceSenior   ExperienceLevel = "SENIOR"
)

// OpportunityWorkModes lists the values an extracted opportunity may carry.
var OpportunityWorkModes = []WorkMode{WorkModeRemote, WorkModeOnsite, WorkModeHybrid, WorkModeUnknown}

var OpportunityEmploymentTypes = []EmploymentType{
	EmploymentFullTime, EmploymentPartTime, EmploymentContract, EmploymentInternship, EmploymentUnknown,
}

var OpportunityExperienceLevels = []ExperienceLevel{
	ExperienceStudent, ExperienceGraduate, ExperienceJunior, ExperienceMid, ExperienceSenior, ExperienceUnknown,
}

// ParseWorkMode maps free-form extractor output to an opportunity work mode.
func ParseWorkMode(s string) WorkMode {
	for _, v := range OpportunityWorkModes {
		if string(v) == s {
			return v
		}
	}
	return WorkModeUnknown
}

func ParseEmploymentType(s string) EmploymentType {
	for _, v := range OpportunityEmploymentTypes {
		if string(v) == s {
			return v
		}
	}
	return EmploymentUnknown
}

func ParseExperienceLevel(s string) ExperienceLevel {
	for _, v := range OpportunityExperienceLevels {
		if string(v) == s {
			return v
		}
	}
	return ExperienceUnknown
}
