package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/ldninbox/internal/acl"
	"github.com/lalithlochan/ldninbox/internal/apperr"
	"github.com/lalithlochan/ldninbox/internal/events"
	"github.com/lalithlochan/ldninbox/internal/testutil"
)

const baseURL = "https://x.test"

const announce = `{"@context":"https://www.w3.org/ns/activitystreams","type":"Announce","actor":{"id":"https://alice.example.org/me"},"object":"https://repo.test/item/1","target":"https://x.test/service"}`

func newPipeline(store *testutil.Store) *Pipeline {
	return NewPipeline(store, baseURL, zap.NewNop())
}

func request(inboxID int64, body string) Request {
	return Request{
		InboxID:     inboxID,
		Body:        []byte(body),
		ContentType: "application/ld+json",
		Meta: &Meta{
			Method:    "POST",
			RemoteIP:  "203.0.113.7:51234",
			UserAgent: "test-agent",
			Host:      "x.test",
		},
	}
}

func TestReceive_Accepted(t *testing.T) {
	store := testutil.NewStore()
	inboxID := store.AddInbox(1)
	p := newPipeline(store)

	res, err := p.Receive(context.Background(), request(inboxID, announce))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if res.Status != "accepted" {
		t.Errorf("expected status accepted, got %q", res.Status)
	}
	if res.IRI != MintIRI(baseURL, res.ID) {
		t.Errorf("expected minted iri, got %q", res.IRI)
	}

	stored := store.Notifications()
	if len(stored) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(stored))
	}
	n := stored[0]
	if !bytes.Equal(n.Body, []byte(announce)) {
		t.Error("expected raw body to be stored byte for byte")
	}
	digest := sha256.Sum256([]byte(announce))
	if !bytes.Equal(n.Digest, digest[:]) || len(n.Digest) != 32 {
		t.Error("expected 32 byte binary digest of the body")
	}
	if n.AsType == nil || *n.AsType != "Announce" {
		t.Errorf("expected as_type Announce, got %v", n.AsType)
	}
	if n.SenderID == nil {
		t.Error("expected sender to be linked")
	}
	if store.SenderCount() != 1 {
		t.Errorf("expected 1 sender, got %d", store.SenderCount())
	}

	meta := store.HTTPMeta()
	if len(meta) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(meta))
	}
	if meta[0].StatusCode != 201 || meta[0].Method != "POST" {
		t.Errorf("unexpected audit row %+v", meta[0])
	}
	if !bytes.Equal(meta[0].OriginIP, []byte{203, 0, 113, 7}) {
		t.Errorf("expected packed IPv4 address, got %v", meta[0].OriginIP)
	}
}

func TestReceive_Idempotent(t *testing.T) {
	store := testutil.NewStore()
	inboxID := store.AddInbox(1)
	p := newPipeline(store)

	first, err := p.Receive(context.Background(), request(inboxID, announce))
	if err != nil {
		t.Fatalf("first receive: %v", err)
	}

	for i := 0; i < 3; i++ {
		again, err := p.Receive(context.Background(), request(inboxID, announce))
		if err != nil {
			t.Fatalf("repeat %d: %v", i, err)
		}
		if again.ID != first.ID || again.IRI != first.IRI {
			t.Errorf("repeat %d: expected %d/%s, got %d/%s", i, first.ID, first.IRI, again.ID, again.IRI)
		}
	}

	if got := len(store.Notifications()); got != 1 {
		t.Errorf("expected exactly 1 stored notification, got %d", got)
	}
}

func TestReceive_IRIIsNeverRecomputed(t *testing.T) {
	store := testutil.NewStore()
	inboxID := store.AddInbox(1)

	first, err := newPipeline(store).Receive(context.Background(), request(inboxID, announce))
	if err != nil {
		t.Fatalf("first receive: %v", err)
	}

	moved := NewPipeline(store, "https://moved.test", zap.NewNop())
	again, err := moved.Receive(context.Background(), request(inboxID, announce))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.IRI != first.IRI {
		t.Errorf("expected stored iri %q to survive a replay, got %q", first.IRI, again.IRI)
	}
}

func TestReceive_SameBodyDifferentInboxes(t *testing.T) {
	store := testutil.NewStore()
	a := store.AddInbox(1)
	b := store.AddInbox(1)
	p := newPipeline(store)

	ra, _ := p.Receive(context.Background(), request(a, announce))
	rb, _ := p.Receive(context.Background(), request(b, announce))

	if ra == nil || rb == nil || ra.ID == rb.ID {
		t.Fatal("expected one notification per inbox")
	}
	if got := len(store.Notifications()); got != 2 {
		t.Errorf("expected 2 notifications, got %d", got)
	}
}

func TestReceive_DigestUniqueness(t *testing.T) {
	store := testutil.NewStore()
	inboxID := store.AddInbox(1)
	p := newPipeline(store)

	// Same extracted fields, different bytes.
	compact := `{"type":"Announce","object":"https://o"}`
	spaced := `{"type": "Announce", "object": "https://o"}`

	r1, err := p.Receive(context.Background(), request(inboxID, compact))
	if err != nil {
		t.Fatalf("receive compact: %v", err)
	}
	r2, err := p.Receive(context.Background(), request(inboxID, spaced))
	if err != nil {
		t.Fatalf("receive spaced: %v", err)
	}

	if r1.ID == r2.ID {
		t.Error("expected distinct notifications for distinct bodies")
	}
	if got := len(store.Notifications()); got != 2 {
		t.Errorf("expected 2 notifications, got %d", got)
	}
}

func TestReceive_Rejections(t *testing.T) {
	tests := []struct {
		setup    func(*testutil.Store, int64)
		name     string
		body     string
		inboxID  int64
		token    string
		wantKind apperr.Kind
		wantMsg  string
	}{
		{
			name:     "invalid inbox id",
			inboxID:  -1,
			body:     announce,
			wantKind: apperr.KindInvalidInput,
			wantMsg:  "Missing or invalid inbox_id",
		},
		{
			name:     "unknown inbox",
			inboxID:  999,
			body:     announce,
			wantKind: apperr.KindNotFound,
			wantMsg:  "Inbox not found",
		},
		{
			name:     "empty body",
			body:     "",
			wantKind: apperr.KindInvalidInput,
			wantMsg:  "Empty request body",
		},
		{
			name:     "invalid json",
			body:     "<html>not json</html>",
			wantKind: apperr.KindUnsupportedPayload,
			wantMsg:  "Invalid JSON",
		},
		{
			name: "whitelist rejects other actor",
			body: announce,
			setup: func(s *testutil.Store, inbox int64) {
				s.AddRule(inbox, acl.Allow, acl.MatchExactActor, "https://bob.test/me")
			},
			wantKind: apperr.KindPolicyDenied,
			wantMsg:  "Sender not allowed by ACL",
		},
		{
			name: "deny wins over allow",
			body: announce,
			setup: func(s *testutil.Store, inbox int64) {
				s.AddRule(inbox, acl.Deny, acl.MatchDomainSuffix, "example.org")
				s.AddRule(inbox, acl.Allow, acl.MatchExactActor, "https://alice.example.org/me")
			},
			wantKind: apperr.KindPolicyDenied,
			wantMsg:  "Sender not allowed by ACL",
		},
		{
			name:  "wrong token",
			body:  `{"type":"Offer"}`,
			token: "nope",
			setup: func(s *testutil.Store, inbox int64) {
				s.AddRule(inbox, acl.Allow, acl.MatchAuthToken, "s3cret")
			},
			wantKind: apperr.KindPolicyDenied,
			wantMsg:  "Sender not allowed by ACL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewStore()
			inboxID := store.AddInbox(1)
			if tt.setup != nil {
				tt.setup(store, inboxID)
			}
			if tt.inboxID != 0 {
				inboxID = tt.inboxID
			}

			req := request(inboxID, tt.body)
			req.AuthToken = tt.token

			_, err := newPipeline(store).Receive(context.Background(), req)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if kind := apperr.KindOf(err); kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, kind)
			}
			if msg := apperr.Message(err); msg != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, msg)
			}
			if got := len(store.Notifications()); got != 0 {
				t.Errorf("expected no stored notification, got %d", got)
			}
			if got := len(store.HTTPMeta()); got != 0 {
				t.Errorf("expected no audit row, got %d", got)
			}
		})
	}
}

func TestReceive_ACLModes(t *testing.T) {
	const actorA = "https://alice.example.org/me"

	tests := []struct {
		setup     func(*testutil.Store, int64)
		name      string
		body      string
		token     string
		wantAllow bool
	}{
		{
			name:      "no rules accepts anonymous",
			body:      `{"type":"Announce"}`,
			wantAllow: true,
		},
		{
			name: "whitelist accepts matching actor",
			body: announce,
			setup: func(s *testutil.Store, inbox int64) {
				s.AddRule(inbox, acl.Allow, acl.MatchExactActor, actorA)
			},
			wantAllow: true,
		},
		{
			name: "blacklist accepts non-matching actor",
			body: `{"actor":"https://carol.test/me"}`,
			setup: func(s *testutil.Store, inbox int64) {
				s.AddRule(inbox, acl.Deny, acl.MatchDomainSuffix, "example.org")
			},
			wantAllow: true,
		},
		{
			name:  "token opens whitelist",
			body:  `{"type":"Offer"}`,
			token: "s3cret",
			setup: func(s *testutil.Store, inbox int64) {
				s.AddRule(inbox, acl.Allow, acl.MatchAuthToken, "s3cret")
			},
			wantAllow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewStore()
			inboxID := store.AddInbox(1)
			if tt.setup != nil {
				tt.setup(store, inboxID)
			}

			req := request(inboxID, tt.body)
			req.AuthToken = tt.token

			_, err := newPipeline(store).Receive(context.Background(), req)
			if tt.wantAllow && err != nil {
				t.Errorf("expected acceptance, got %v", err)
			}
		})
	}
}

func TestReceive_StorageFailureRollsBack(t *testing.T) {
	store := testutil.NewStore()
	inboxID := store.AddInbox(1)
	store.FailOn["InsertHTTPMeta"] = errors.New("disk full")

	_, err := newPipeline(store).Receive(context.Background(), request(inboxID, announce))
	if apperr.KindOf(err) != apperr.KindStorage {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if !errors.Is(err, store.FailOn["InsertHTTPMeta"]) {
		t.Error("expected the cause to be preserved for the response detail")
	}

	if got := len(store.Notifications()); got != 0 {
		t.Errorf("expected rollback to discard the notification, got %d rows", got)
	}
	if got := store.SenderCount(); got != 0 {
		t.Errorf("expected rollback to discard the sender, got %d rows", got)
	}
}

func TestReceiveTrusted_SkipsACLAndAudit(t *testing.T) {
	store := testutil.NewStore()
	inboxID := store.AddInbox(1)
	store.AddRule(inboxID, acl.Allow, acl.MatchAuthToken, "s3cret")

	req := request(inboxID, announce)
	req.Meta = nil

	res, err := newPipeline(store).ReceiveTrusted(context.Background(), req)
	if err != nil {
		t.Fatalf("expected trusted delivery to bypass ACL, got %v", err)
	}
	if res.ID == 0 {
		t.Error("expected a notification id")
	}
	if got := len(store.HTTPMeta()); got != 0 {
		t.Errorf("expected no audit row for trusted delivery, got %d", got)
	}
}

func TestReceive_ConcurrentDuplicates(t *testing.T) {
	store := testutil.NewStore()
	inboxID := store.AddInbox(1)
	p := newPipeline(store)

	const n = 8
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Receive(context.Background(), request(inboxID, announce))
			if err != nil {
				t.Errorf("receive %d: %v", i, err)
				return
			}
			ids[i] = res.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Errorf("expected every request to resolve to id %d, got %d", ids[0], ids[i])
		}
	}
	if got := len(store.Notifications()); got != 1 {
		t.Errorf("expected 1 notification, got %d", got)
	}
}

type capturePublisher struct {
	events []events.Event
	mu     sync.Mutex
}

func (c *capturePublisher) Publish(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func TestReceive_PublishesEvent(t *testing.T) {
	store := testutil.NewStore()
	inboxID := store.AddInbox(1)
	pub := &capturePublisher{}
	p := NewPipelineWithEvents(store, baseURL, pub, zap.NewNop())

	res, err := p.Receive(context.Background(), request(inboxID, announce))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	e := pub.events[0]
	if e.Type != events.TypeNotificationAccepted || e.NotificationID != res.ID {
		t.Errorf("unexpected event %+v", e)
	}
	if e.Actor != "https://alice.example.org/me" || e.ActivityType != "Announce" {
		t.Errorf("expected actor and type on event, got %+v", e)
	}
}

func TestMintIRI(t *testing.T) {
	if got := MintIRI("https://x.test", 42); got != "https://x.test/notification?id=42" {
		t.Errorf("unexpected iri %q", got)
	}
	if got := MintIRI("https://x.test/", 42); got != "https://x.test/notification?id=42" {
		t.Errorf("expected trailing slash to be ignored, got %q", got)
	}
}

func TestPackIP(t *testing.T) {
	tests := []struct {
		addr string
		want int
	}{
		{addr: "192.0.2.1", want: 4},
		{addr: "192.0.2.1:8080", want: 4},
		{addr: "[2001:db8::1]:443", want: 16},
		{addr: "2001:db8::1", want: 16},
		{addr: "", want: 0},
		{addr: "not-an-ip", want: 0},
	}

	for _, tt := range tests {
		if got := len(PackIP(tt.addr)); got != tt.want {
			t.Errorf("PackIP(%q): expected %d bytes, got %d", tt.addr, tt.want, got)
		}
	}
}
