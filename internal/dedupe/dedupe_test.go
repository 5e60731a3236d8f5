package dedupe

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{
			name:   "empty",
			input:  "   ",
			expect: "",
		},
		{
			name:   "strips urls and handles",
			input:  "Apply at https://jobs.example.com/x?id=1 or ping @hr_team now",
			expect: "apply at or ping now",
		},
		{
			name:   "strips closed markers",
			input:  "‼️CLOSED‼️ Backend Engineer - Vacancy filled",
			expect: "backend engineer",
		},
		{
			name:   "collapses punctuation and whitespace",
			input:  "Backend   Engineer — Addis Ababa,\n\ndeadline 2025-03-01!!",
			expect: "backend engineer addis ababa deadline 2025 03 01",
		},
		{
			name:   "keeps non latin letters",
			input:  "የሶፍትዌር መሐንዲስ።",
			expect: "የሶፍትዌር መሐንዲስ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tt.input); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}

func TestHash(t *testing.T) {
	t.Parallel()

	if got := Hash(" \n "); got != "" {
		t.Fatalf("expected empty hash for empty text, got %q", got)
	}
	if got := Hash("!!! @someone https://t.me/x"); got != "" {
		t.Fatalf("expected empty hash when nothing survives normalization, got %q", got)
	}

	original := Hash("Backend Engineer — Addis Ababa, deadline 2025-03-01 https://t.me/jobs/1")
	repost := Hash("#CLOSED backend engineer, addis ababa. Deadline 2025-03-01 https://t.me/jobs/99 @jobs")
	if original == "" || original != repost {
		t.Fatalf("expected repost to share a fingerprint: %q vs %q", original, repost)
	}
	if len(original) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(original))
	}

	if Hash("Backend Engineer") == Hash("Frontend Engineer") {
		t.Fatalf("different content must not collide")
	}
}
