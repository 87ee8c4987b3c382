package memory

import (
	"context"
	"encoding/json"
	"testing"
)

func TestPublishRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := context.Background()

	id1, err := p.Publish(ctx, "outcomes", map[string]string{"job_id": "job-1"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	id2, err := p.Publish(ctx, "outcomes", map[string]string{"job_id": "job-2"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("message ids should be unique, got %s twice", id1)
	}

	msgs := p.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	var payload map[string]string
	if err := json.Unmarshal(msgs[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["job_id"] != "job-1" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestPublishRejectsUnserializablePayload(t *testing.T) {
	t.Parallel()

	p := New()
	if _, err := p.Publish(context.Background(), "outcomes", make(chan int)); err == nil {
		t.Fatal("channels cannot be marshaled; expected an error")
	}
}

func TestMessagesReturnsSnapshot(t *testing.T) {
	t.Parallel()

	p := New()
	if _, err := p.Publish(context.Background(), "outcomes", "a"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	snap := p.Messages()
	if _, err := p.Publish(context.Background(), "outcomes", "b"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(snap) != 1 {
		t.Fatalf("snapshot should not grow, len = %d", len(snap))
	}
}
