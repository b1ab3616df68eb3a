package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aman-churiwal/property-listings/internal/config"
)

type Scope string

const (
	ScopeIP       Scope = "ip"
	ScopeUsername Scope = "username"
	ScopeEmail    Scope = "email"
)

var ErrUnknownClass = errors.New("unknown rate limit class")

type Rule struct {
	Name      string
	Scope     Scope
	Limit     int
	Window    time.Duration
	Algorithm string
}

// Identifiers a request can be counted under. Empty fields mean the request
// did not carry that identifier.
type Subject struct {
	IP       string
	Username string
	Email    string
}

// Returns the identifier for scope. Usernames and emails are case-folded so
// "Alice" and "alice" share a counter.
func (s Subject) Identifier(scope Scope) string {
	switch scope {
	case ScopeIP:
		return strings.TrimSpace(s.IP)
	case ScopeUsername:
		return strings.ToLower(strings.TrimSpace(s.Username))
	case ScopeEmail:
		return strings.ToLower(strings.TrimSpace(s.Email))
	default:
		return ""
	}
}

type RuleResult struct {
	Rule   string
	Scope  Scope
	Limit  int
	Result Result
}

// Outcome of evaluating every applicable rule of a class
type Decision struct {
	Allowed bool
	Class   string
	Message string
	// Rule that blocked the request, or the one closest to blocking it
	Rule      string
	Limit     int
	Remaining int
	ResetAt   time.Time
	Results   []RuleResult
}

// False when no rule of the class had an identifier to count
func (d Decision) Evaluated() bool {
	return len(d.Results) > 0
}

func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

type boundRule struct {
	Rule
	limiter Limiter
}

type classPolicy struct {
	message string
	rules   []boundRule
}

// Policy maps route classes to their rules
type Policy struct {
	classes map[string]classPolicy
}

func NewPolicy(store Store, cfg config.RateLimitConfig, opts ...Option) (*Policy, error) {
	if cfg.KeyPrefix != "" {
		opts = append([]Option{WithKeyPrefix(cfg.KeyPrefix)}, opts...)
	}

	p := &Policy{classes: make(map[string]classPolicy, len(cfg.Classes))}
	for class, rc := range cfg.Classes {
		cp := classPolicy{message: rc.Message}
		for _, rcfg := range rc.Rules {
			rule := Rule{
				Name:      rcfg.Name,
				Scope:     Scope(rcfg.Scope),
				Limit:     rcfg.Limit,
				Window:    rcfg.Window.Std(),
				Algorithm: rcfg.Algorithm,
			}
			if err := rule.validate(); err != nil {
				return nil, fmt.Errorf("class %s: %w", class, err)
			}
			cp.rules = append(cp.rules, boundRule{
				Rule:    rule,
				limiter: NewLimiter(store, rule.Algorithm, rule.Limit, rule.Window, opts...),
			})
		}
		p.classes[class] = cp
	}

	return p, nil
}

func (r Rule) validate() error {
	switch {
	case r.Name == "":
		return errors.New("rule name is required")
	case r.Scope != ScopeIP && r.Scope != ScopeUsername && r.Scope != ScopeEmail:
		return fmt.Errorf("rule %s: unknown scope %q", r.Name, r.Scope)
	case r.Limit <= 0:
		return fmt.Errorf("rule %s: limit must be positive", r.Name)
	case r.Window <= 0:
		return fmt.Errorf("rule %s: window must be positive", r.Name)
	}
	return nil
}

func (p *Policy) Message(class string) string {
	if cp, ok := p.classes[class]; ok && cp.message != "" {
		return cp.message
	}
	return "Too many requests. Please try again later."
}

// Returns the scopes the rules of class count under, without duplicates
func (p *Policy) Scopes(class string) []Scope {
	var scopes []Scope
	seen := make(map[Scope]bool)
	for _, rule := range p.classes[class].rules {
		if !seen[rule.Scope] {
			seen[rule.Scope] = true
			scopes = append(scopes, rule.Scope)
		}
	}
	return scopes
}

// Counts the request against every rule of class that has an identifier and
// blocks it if any of them is exceeded. Rules are all evaluated even after
// one has blocked, so every counter sees the request.
func (p *Policy) Evaluate(ctx context.Context, class string, subject Subject) (Decision, error) {
	cp, ok := p.classes[class]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}

	decision := Decision{Allowed: true, Class: class, Message: p.Message(class)}
	blocking, tightest := -1, -1

	for _, rule := range cp.rules {
		id := subject.Identifier(rule.Scope)
		if id == "" {
			continue
		}

		key := fmt.Sprintf("%s:%s:%s:%s", class, rule.Name, rule.Scope, id)
		res, err := rule.limiter.Allow(ctx, key)
		if err != nil {
			return Decision{}, fmt.Errorf("rule %s: %w", rule.Name, err)
		}

		decision.Results = append(decision.Results, RuleResult{
			Rule:   rule.Name,
			Scope:  rule.Scope,
			Limit:  rule.Limit,
			Result: res,
		})
		i := len(decision.Results) - 1

		if !res.Allowed {
			decision.Allowed = false
			// The caller has to wait for the slowest exceeded rule
			if blocking < 0 || res.ResetAt.After(decision.Results[blocking].Result.ResetAt) {
				blocking = i
			}
		}
		if tightest < 0 || res.Remaining < decision.Results[tightest].Result.Remaining {
			tightest = i
		}
	}

	pick := tightest
	if blocking >= 0 {
		pick = blocking
	}
	if pick >= 0 {
		chosen := decision.Results[pick]
		decision.Rule = chosen.Rule
		decision.Limit = chosen.Limit
		decision.Remaining = chosen.Result.Remaining
		decision.ResetAt = chosen.Result.ResetAt
	}

	return decision, nil
}
