// Package acl decides whether a sender may post into an inbox.
package acl

import (
	"crypto/subtle"
	"fmt"
	"net/url"
	"strings"
)

// RuleType is the effect of a rule when it matches
type RuleType string

const (
	Allow RuleType = "allow"
	Deny  RuleType = "deny"
)

// MatchKind selects how a rule's value is compared with the request
type MatchKind string

const (
	MatchAuthToken      MatchKind = "auth_token"
	MatchExactActor     MatchKind = "exact_actor"
	MatchActorIRIPrefix MatchKind = "actor_iri_prefix"
	MatchDomainSuffix   MatchKind = "domain_suffix"
	// MatchMTLSDN is reserved for client-certificate identities and never matches.
	MatchMTLSDN MatchKind = "mtls_dn"
)

// Rule is one access control entry of an inbox
type Rule struct {
	Type  RuleType  `json:"rule_type"`
	Kind  MatchKind `json:"match_kind"`
	Value string    `json:"match_value"`
	ID    int64     `json:"id"`
}

// ParseRuleType validates a rule type coming from user input
func ParseRuleType(s string) (RuleType, error) {
	switch t := RuleType(strings.ToLower(strings.TrimSpace(s))); t {
	case Allow, Deny:
		return t, nil
	default:
		return "", fmt.Errorf("unknown rule type %q", s)
	}
}

// ParseMatchKind validates a match kind coming from user input
func ParseMatchKind(s string) (MatchKind, error) {
	switch k := MatchKind(strings.ToLower(strings.TrimSpace(s))); k {
	case MatchAuthToken, MatchExactActor, MatchActorIRIPrefix, MatchDomainSuffix, MatchMTLSDN:
		return k, nil
	default:
		return "", fmt.Errorf("unknown match kind %q", s)
	}
}

// Evaluate reports whether a request from actorIRI presenting authToken is
// accepted by rules. Empty strings mean the actor or token is absent.
//
// An inbox without rules is public. As soon as one allow rule exists the
// inbox switches to whitelist mode and rejects anything no allow rule
// matches. A matching deny rule rejects the request whatever else matches.
func Evaluate(rules []Rule, actorIRI, authToken string) bool {
	if len(rules) == 0 {
		return true
	}

	hasAllow := false
	for _, r := range rules {
		if r.Type == Allow {
			hasAllow = true
			break
		}
	}

	allowed := !hasAllow
	for _, r := range rules {
		if !r.matches(actorIRI, authToken) {
			continue
		}
		switch r.Type {
		case Deny:
			return false
		case Allow:
			allowed = true
		}
	}

	return allowed
}

func (r Rule) matches(actorIRI, authToken string) bool {
	switch r.Kind {
	case MatchAuthToken:
		if authToken == "" {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(authToken), []byte(r.Value)) == 1
	case MatchActorIRIPrefix:
		return actorIRI != "" && strings.HasPrefix(actorIRI, r.Value)
	case MatchExactActor:
		return actorIRI != "" && actorIRI == r.Value
	case MatchDomainSuffix:
		return matchDomain(actorIRI, r.Value)
	default:
		return false
	}
}

func matchDomain(actorIRI, suffix string) bool {
	if actorIRI == "" {
		return false
	}
	u, err := url.Parse(actorIRI)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	suffix = strings.ToLower(strings.TrimPrefix(suffix, "."))
	if host == "" || suffix == "" {
		return false
	}
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}
