package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("extract raw 7: %w", Transientf("gemini", "rate limited"))
	if !IsTransient(err) {
		t.Fatalf("expected transient, got %s", KindOf(err))
	}
	if IsPermanent(err) || IsConfiguration(err) || IsValidation(err) {
		t.Fatalf("unexpected kind match for %v", err)
	}
	if !strings.Contains(err.Error(), "gemini: transient error: rate limited") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := Validationf("", "domain does not belong to type")
	err := Wrap(KindPermanent, "groq", inner, "extract")
	if !IsValidation(err) {
		t.Fatalf("expected validation kind preserved, got %s", KindOf(err))
	}

	plain := errors.New("dial tcp: timeout")
	wrapped := Wrap(KindTransient, "groq", plain, "call")
	if !IsTransient(wrapped) || !errors.Is(wrapped, plain) {
		t.Fatalf("expected transient wrapper around plain error, got %v", wrapped)
	}

	if Wrap(KindTransient, "groq", nil, "call") != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestKindOfUntagged(t *testing.T) {
	if KindOf(errors.New("x")) != KindUnknown {
		t.Fatalf("expected unknown kind")
	}
}

type failingSink struct{ calls int }

func (f *failingSink) RecordUsage(ctx context.Context, rec UsageRecord) error {
	f.calls++
	return errors.New("db down")
}

type captureSink struct{ recs []UsageRecord }

func (c *captureSink) RecordUsage(ctx context.Context, rec UsageRecord) error {
	c.recs = append(c.recs, rec)
	return nil
}

func TestUsageRecorderSwallowsSinkErrors(t *testing.T) {
	sink := &failingSink{}
	NewUsageRecorder(sink, nil).Record(context.Background(), UsageRecord{Provider: "gemini"})
	if sink.calls != 1 {
		t.Fatalf("expected one sink call, got %d", sink.calls)
	}

	var nilRecorder *UsageRecorder
	nilRecorder.Record(context.Background(), UsageRecord{})
}

func TestUsageRecorderNormalizes(t *testing.T) {
	sink := &captureSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewUsageRecorder(sink, nil).Record(ctx, UsageRecord{
		Provider:     "gemini",
		ErrorMessage: strings.Repeat("e", 1500),
		APIKeyMasked: strings.Repeat("k", 80),
		Duration:     time.Second,
	})

	if len(sink.recs) != 1 {
		t.Fatalf("expected one record, got %d", len(sink.recs))
	}
	rec := sink.recs[0]
	if len(rec.ErrorMessage) != 1000 || len(rec.APIKeyMasked) != 50 {
		t.Fatalf("expected truncation, got %d/%d", len(rec.ErrorMessage), len(rec.APIKeyMasked))
	}
	if rec.Context != ContextOther || rec.CreatedAt.IsZero() {
		t.Fatalf("expected defaults, got %+v", rec)
	}
}

func TestMaskKey(t *testing.T) {
	if got := MaskKey("AIzaSyABCDEFGH1234"); got != "AIza...1234" {
		t.Fatalf("unexpected mask: %q", got)
	}
	if got := MaskKey("short"); got != "***" {
		t.Fatalf("unexpected mask for short key: %q", got)
	}
}
