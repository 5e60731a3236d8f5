package model

// Metadata is the free-form JSON document stored with an opportunity.
type Metadata map[string]any

const (
	MetaAI        = "ai"
	MetaExtracted = "extracted"
	MetaFlags     = "flags"

	FlagClosedDetected         = "closed_detected"
	FlagClosedMatch            = "closed_match"
	FlagRemoteLocationOverride = "remote_location_override"
	FlagDedupeHit              = "dedupe_hit"
	FlagDedupedFromRawID       = "deduped_from_raw_id"
	FlagDedupedFromOpportunity = "deduped_from_opportunity_id"
)

// Section returns the nested object stored under key, creating it when absent
// or of the wrong shape.
func (m Metadata) Section(key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	sec := map[string]any{}
	m[key] = sec
	return sec
}

// SetFlag stores a value in the flags section.
func (m Metadata) SetFlag(name string, value any) {
	m.Section(MetaFlags)[name] = value
}

// Flag reads a value from the flags section.
func (m Metadata) Flag(name string) (any, bool) {
	flags, ok := m[MetaFlags].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := flags[name]
	return v, ok
}

// IsDedupeCopy reports whether the opportunity was copied from an earlier one.
func (m Metadata) IsDedupeCopy() bool {
	v, ok := m.Flag(FlagDedupeHit)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Clone returns a deep copy of nested maps and slices.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return Metadata(cloneMap(m))
}

// Prune drops nested objects whose values are all nil or blank strings.
func (m Metadata) Prune() {
	pruneMap(m)
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Metadata:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// pruneMap removes empty nested objects and reports whether m itself is empty.
func pruneMap(m map[string]any) bool {
	for k, v := range m {
		nested, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if pruneMap(nested) {
			delete(m, k)
		}
	}
	for _, v := range m {
		if !blank(v) {
			return false
		}
	}
	return true
}

func blank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
