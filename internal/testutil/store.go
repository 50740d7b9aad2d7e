// Package testutil provides an in-memory implementation of the repository
// for package tests.
package testutil

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lalithlochan/ldninbox/internal/acl"
	"github.com/lalithlochan/ldninbox/internal/db"
)

// Store keeps every table in memory. Notification transactions run against
// a copy of the state that replaces it only when the callback succeeds.
type Store struct {
	// FailOn makes the named method return the mapped error
	FailOn map[string]error

	state *state
	mu    sync.Mutex
}

type state struct {
	inboxes       map[int64]db.Inbox
	rules         map[int64]db.ACLRule
	senders       map[string]int64
	notifications map[int64]db.Notification
	meta          []db.HTTPMeta
	outgoing      map[int64]db.OutgoingNotification
	attempts      map[int64]db.DeliveryAttempt
	origin        *db.Origin
	clock         time.Time
	nextID        int64
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{
		FailOn: map[string]error{},
		state: &state{
			inboxes:       map[int64]db.Inbox{},
			rules:         map[int64]db.ACLRule{},
			senders:       map[string]int64{},
			notifications: map[int64]db.Notification{},
			outgoing:      map[int64]db.OutgoingNotification{},
			attempts:      map[int64]db.DeliveryAttempt{},
			clock:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func (s *state) clone() *state {
	c := *s
	c.inboxes = make(map[int64]db.Inbox, len(s.inboxes))
	for k, v := range s.inboxes {
		c.inboxes[k] = v
	}
	c.rules = make(map[int64]db.ACLRule, len(s.rules))
	for k, v := range s.rules {
		c.rules[k] = v
	}
	c.senders = make(map[string]int64, len(s.senders))
	for k, v := range s.senders {
		c.senders[k] = v
	}
	c.notifications = make(map[int64]db.Notification, len(s.notifications))
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	c.meta = append([]db.HTTPMeta(nil), s.meta...)
	c.outgoing = make(map[int64]db.OutgoingNotification, len(s.outgoing))
	for k, v := range s.outgoing {
		c.outgoing[k] = v
	}
	c.attempts = make(map[int64]db.DeliveryAttempt, len(s.attempts))
	for k, v := range s.attempts {
		c.attempts[k] = v
	}
	return &c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *state) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *Store) fail(method string) error {
	return s.FailOn[method]
}

// AddInbox creates an inbox owned by ownerID and returns its id
func (s *Store) AddInbox(ownerID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.state.id()
	s.state.inboxes[id] = db.Inbox{
		ID:          id,
		OwnerUserID: ownerID,
		InboxIRI:    "https://x.test/inbox?inbox_id=" + strconv.FormatInt(id, 10),
		Visibility:  db.VisibilityPublic,
		CreatedAt:   s.state.tick(),
	}
	return id
}

// AddRule attaches a rule to an inbox and returns its id
func (s *Store) AddRule(inboxID int64, ruleType acl.RuleType, kind acl.MatchKind, value string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.state.id()
	s.state.rules[id] = db.ACLRule{
		ID:        id,
		InboxID:   inboxID,
		RuleType:  ruleType,
		MatchKind: kind,
		Value:     value,
		CreatedAt: s.state.tick(),
	}
	return id
}

// AddNotification stores a notification directly, bypassing deduplication
func (s *Store) AddNotification(n db.Notification) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = s.state.id()
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = s.state.tick()
	}
	s.state.notifications[n.ID] = n
	return n.ID
}

// Notifications returns every stored notification ordered by id
func (s *Store) Notifications() []db.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]db.Notification, 0, len(s.state.notifications))
	for _, n := range s.state.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HTTPMeta returns every audit row
func (s *Store) HTTPMeta() []db.HTTPMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.HTTPMeta(nil), s.state.meta...)
}

// SenderCount returns the number of sender rows
func (s *Store) SenderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.senders)
}

// Attempts returns the attempts of one outgoing notification
func (s *Store) Attempts(outgoingID int64) []db.DeliveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.DeliveryAttempt
	for _, a := range s.state.attempts {
		if a.OutgoingNotificationID == outgoingID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNo < out[j].AttemptNo })
	return out
}

// OutgoingCount returns the number of outgoing rows
func (s *Store) OutgoingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.outgoing)
}

func (s *Store) GetInbox(_ context.Context, id int64) (*db.Inbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("GetInbox"); err != nil {
		return nil, err
	}
	inbox, ok := s.state.inboxes[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &inbox, nil
}

func (s *Store) CreateInbox(_ context.Context, inbox *db.Inbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("CreateInbox"); err != nil {
		return err
	}
	for _, existing := range s.state.inboxes {
		if existing.InboxIRI == inbox.InboxIRI {
			return db.ErrConflict
		}
	}
	inbox.ID = s.state.id()
	inbox.CreatedAt = s.state.tick()
	inbox.IsPrimary = false
	s.state.inboxes[inbox.ID] = *inbox
	return nil
}

func (s *Store) SetPrimaryInbox(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.state.inboxes[id]
	if !ok {
		return db.ErrNotFound
	}
	for k, inbox := range s.state.inboxes {
		if inbox.OwnerUserID == target.OwnerUserID {
			inbox.IsPrimary = k == id
			s.state.inboxes[k] = inbox
		}
	}
	return nil
}

func (s *Store) ListACLRules(_ context.Context, inboxID int64) ([]db.ACLRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("ListACLRules"); err != nil {
		return nil, err
	}
	var out []db.ACLRule
	for _, r := range s.state.rules {
		if r.InboxID == inboxID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateACLRule(_ context.Context, rule *db.ACLRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule.ID = s.state.id()
	rule.CreatedAt = s.state.tick()
	s.state.rules[rule.ID] = *rule
	return nil
}

func (s *Store) GetACLRule(_ context.Context, id int64) (*db.ACLRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.state.rules[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &r, nil
}

func (s *Store) DeleteACLRule(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.rules[id]; !ok {
		return db.ErrNotFound
	}
	delete(s.state.rules, id)
	return nil
}

func (s *Store) GetOrigin(_ context.Context) (*db.Origin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.origin == nil {
		return nil, db.ErrNotFound
	}
	o := *s.state.origin
	return &o, nil
}

func (s *Store) UpsertOrigin(_ context.Context, origin *db.Origin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	origin.UpdatedAt = s.state.tick()
	o := *origin
	s.state.origin = &o
	return nil
}

// WithNotificationTx runs fn against a copy of the state
func (s *Store) WithNotificationTx(_ context.Context, fn func(db.NotificationTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("WithNotificationTx"); err != nil {
		return err
	}

	staged := s.state.clone()
	if err := fn(&memTx{store: s, state: staged}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

type memTx struct {
	store *Store
	state *state
}

func (t *memTx) InsertSender(_ context.Context, actorIRI string) error {
	if err := t.store.fail("InsertSender"); err != nil {
		return err
	}
	if _, ok := t.state.senders[actorIRI]; !ok {
		t.state.senders[actorIRI] = t.state.id()
	}
	return nil
}

func (t *memTx) SenderIDByActor(_ context.Context, actorIRI string) (int64, error) {
	id, ok := t.state.senders[actorIRI]
	if !ok {
		return 0, db.ErrNotFound
	}
	return id, nil
}

func (t *memTx) InsertNotification(_ context.Context, n *db.Notification) error {
	if err := t.store.fail("InsertNotification"); err != nil {
		return err
	}
	for _, existing := range t.state.notifications {
		if existing.InboxID == n.InboxID && bytes.Equal(existing.Digest, n.Digest) {
			return nil
		}
	}
	stored := *n
	stored.ID = t.state.id()
	stored.ReceivedAt = t.state.tick()
	stored.Body = append([]byte(nil), n.Body...)
	t.state.notifications[stored.ID] = stored
	return nil
}

func (t *memTx) NotificationIDByDigest(_ context.Context, inboxID int64, digest []byte) (int64, error) {
	for _, n := range t.state.notifications {
		if n.InboxID == inboxID && bytes.Equal(n.Digest, digest) {
			return n.ID, nil
		}
	}
	return 0, db.ErrNotFound
}

func (t *memTx) AssignNotificationIRI(_ context.Context, id int64, iri string) (string, error) {
	n, ok := t.state.notifications[id]
	if !ok {
		return "", db.ErrNotFound
	}
	if n.NotificationIRI == nil {
		n.NotificationIRI = &iri
		t.state.notifications[id] = n
	}
	return *n.NotificationIRI, nil
}

func (t *memTx) InsertHTTPMeta(_ context.Context, meta *db.HTTPMeta) error {
	if err := t.store.fail("InsertHTTPMeta"); err != nil {
		return err
	}
	t.state.meta = append(t.state.meta, *meta)
	return nil
}

func (s *Store) ListNotifications(_ context.Context, inboxID int64, limit int) ([]*db.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*db.Notification
	for _, n := range s.state.notifications {
		if n.InboxID == inboxID && n.Status == db.NotificationAccepted {
			n := n
			out = append(out, &n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetNotification(_ context.Context, id int64) (*db.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.state.notifications[id]
	if !ok || n.Status != db.NotificationAccepted {
		return nil, db.ErrNotFound
	}
	return &n, nil
}

func (s *Store) CreateOutgoing(_ context.Context, out *db.OutgoingNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("CreateOutgoing"); err != nil {
		return err
	}
	out.ID = s.state.id()
	out.CreatedAt = s.state.tick()
	out.UpdatedAt = out.CreatedAt
	s.state.outgoing[out.ID] = *out
	return nil
}

func (s *Store) UpdateDeliveryStatus(_ context.Context, id int64, status string, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("UpdateDeliveryStatus"); err != nil {
		return err
	}
	out, ok := s.state.outgoing[id]
	if !ok {
		return db.ErrNotFound
	}
	out.DeliveryStatus = status
	out.LastError = lastError
	out.UpdatedAt = s.state.tick()
	s.state.outgoing[id] = out
	return nil
}

func (s *Store) InsertDeliveryAttempt(_ context.Context, a *db.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("InsertDeliveryAttempt"); err != nil {
		return err
	}
	a.ID = s.state.id()
	a.CreatedAt = s.state.tick()
	s.state.attempts[a.ID] = *a
	return nil
}

func (s *Store) ListOutgoing(_ context.Context, f db.OutgoingFilter) ([]*db.OutgoingNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*db.OutgoingNotification
	for _, o := range s.state.outgoing {
		if f.Status != "" && o.DeliveryStatus != f.Status {
			continue
		}
		if f.ReplyToNotificationID != nil &&
			(o.ReplyToNotificationID == nil || *o.ReplyToNotificationID != *f.ReplyToNotificationID) {
			continue
		}
		o := o
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) GetOutgoing(_ context.Context, id int64) (*db.OutgoingNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.outgoing[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &o, nil
}

func (s *Store) ListDeliveryAttempts(_ context.Context, outgoingID int64) ([]*db.DeliveryAttempt, error) {
	attempts := s.Attempts(outgoingID)
	out := make([]*db.DeliveryAttempt, len(attempts))
	for i := range attempts {
		out[i] = &attempts[i]
	}
	return out, nil
}
