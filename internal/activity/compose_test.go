package activity

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCompose(t *testing.T) {
	origin := Origin{IRI: "https://x.test", Name: "LDN Inbox System", Type: "Application"}
	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.FixedZone("CET", 3600))

	raw, err := Compose(Draft{
		Actor:         &Actor{ID: "https://x.test/users/1", Name: "Ada"},
		Object:        "https://repo.test/item/9",
		Target:        "https://review.test/service",
		Summary:       "Please review",
		CorrelationID: "corr-1",
	}, origin, "https://x.test/", now)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("composed document is not json: %v", err)
	}

	if doc["@context"] != ContextURI {
		t.Errorf("expected context %q, got %v", ContextURI, doc["@context"])
	}
	if doc["type"] != DefaultType {
		t.Errorf("expected default type %q, got %v", DefaultType, doc["type"])
	}
	id, _ := doc["id"].(string)
	if !strings.HasPrefix(id, "https://x.test/notifications/") {
		t.Errorf("unexpected activity id %q", id)
	}
	if doc["published"] != "2024-03-01T09:30:00Z" {
		t.Errorf("expected UTC published timestamp, got %v", doc["published"])
	}
	if doc["correlationId"] != "corr-1" {
		t.Errorf("expected correlationId, got %v", doc["correlationId"])
	}
	if _, ok := doc["content"]; ok {
		t.Error("expected empty content to be omitted")
	}

	actor, ok := doc["actor"].(map[string]any)
	if !ok {
		t.Fatalf("expected actor object, got %T", doc["actor"])
	}
	if actor["type"] != "Person" {
		t.Errorf("expected default actor type Person, got %v", actor["type"])
	}

	org, ok := doc["origin"].(map[string]any)
	if !ok || org["id"] != "https://x.test" || org["type"] != "Application" {
		t.Errorf("unexpected origin %v", doc["origin"])
	}

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse composed: %v", err)
	}
	f := Extract(parsed)
	if ptrValue(f.Actor) != "https://x.test/users/1" || ptrValue(f.Object) != "https://repo.test/item/9" {
		t.Errorf("composed document does not round-trip through the extractor: %+v", f)
	}
}

func TestCompose_UniqueIDs(t *testing.T) {
	d := Draft{Object: "https://o"}
	a, _ := Compose(d, Origin{IRI: "https://x.test", Type: "Application"}, "https://x.test", time.Now())
	b, _ := Compose(d, Origin{IRI: "https://x.test", Type: "Application"}, "https://x.test", time.Now())
	if string(a) == string(b) {
		t.Error("expected distinct documents for repeated composition")
	}
}

func TestCompose_MissingObject(t *testing.T) {
	_, err := Compose(Draft{Type: "Offer"}, Origin{}, "https://x.test", time.Now())
	if !errors.Is(err, ErrMissingObject) {
		t.Errorf("expected ErrMissingObject, got %v", err)
	}
}
