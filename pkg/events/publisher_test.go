package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestEventEncoding(t *testing.T) {
	ev := Event{
		Kind:         AnalysisCompleted,
		ManuscriptID: "ms-1",
		OccurredAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Fields:       map[string]any{"overall": 82},
	}
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Kind != AnalysisCompleted || decoded.ManuscriptID != "ms-1" {
		t.Fatalf("round trip lost fields: %+v", decoded)
	}
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	if err := p.Publish(context.Background(), Event{Kind: ManuscriptDeleted}); err != nil {
		t.Fatalf("noop publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("noop close: %v", err)
	}
}
