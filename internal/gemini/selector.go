package gemini

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"krishimitra/internal/cache"
	"krishimitra/internal/metrics"
)

const (
	RulePriority = "priority"
	RuleFlash    = "flash"
	RuleFirst    = "first"
	RuleDefault  = "default"
	RuleCache    = "cache"

	selectionCacheKey = "model-selection"
)

// Rule is one step of the selection policy. Pick returns the chosen id and
// true when the rule matches the listing.
type Rule struct {
	Name string
	Pick func(listing []string) (string, bool)
}

// PriorityRule returns the first entry of priority present in the listing.
func PriorityRule(priority []string) Rule {
	return Rule{Name: RulePriority, Pick: func(listing []string) (string, bool) {
		present := make(map[string]struct{}, len(listing))
		for _, id := range listing {
			present[id] = struct{}{}
		}
		for _, want := range priority {
			if _, ok := present[want]; ok {
				return want, true
			}
		}
		return "", false
	}}
}

// SubstringRule returns the first listed id containing substr, ignoring case.
func SubstringRule(name, substr string) Rule {
	substr = strings.ToLower(substr)
	return Rule{Name: name, Pick: func(listing []string) (string, bool) {
		for _, id := range listing {
			if strings.Contains(strings.ToLower(id), substr) {
				return id, true
			}
		}
		return "", false
	}}
}

// FirstRule returns the first listed id.
func FirstRule() Rule {
	return Rule{Name: RuleFirst, Pick: func(listing []string) (string, bool) {
		if len(listing) == 0 {
			return "", false
		}
		return listing[0], true
	}}
}

// DefaultRules is the standard chain: exact priority match, then the flash
// tier, then whatever is listed first.
func DefaultRules(priority []string) []Rule {
	return []Rule{
		PriorityRule(priority),
		SubstringRule(RuleFlash, "flash"),
		FirstRule(),
	}
}

// Selection is a resolved model id and the rule that produced it.
type Selection struct {
	Model string `json:"model"`
	Rule  string `json:"rule"`
}

// Resolve walks rules in order over listing.
func Resolve(rules []Rule, listing []string) (Selection, bool) {
	for _, r := range rules {
		if id, ok := r.Pick(listing); ok && id != "" {
			return Selection{Model: id, Rule: r.Name}, true
		}
	}
	return Selection{}, false
}

// Selector picks a usable model id before each AI request.
type Selector struct {
	dir      Directory
	rules    []Rule
	fallback string
	cache    cache.Cache
	ttl      time.Duration
}

type SelectorOption func(*Selector)

// WithCache keeps listing-derived selections for ttl. Default fallbacks are
// never cached.
func WithCache(c cache.Cache, ttl time.Duration) SelectorOption {
	return func(s *Selector) {
		if c != nil && ttl > 0 {
			s.cache = c
			s.ttl = ttl
		}
	}
}

// WithRules replaces the rule chain.
func WithRules(rules ...Rule) SelectorOption {
	return func(s *Selector) { s.rules = rules }
}

func NewSelector(dir Directory, priority []string, fallback string, opts ...SelectorOption) *Selector {
	if len(priority) == 0 {
		priority = DefaultPriority
	}
	if strings.TrimSpace(fallback) == "" {
		fallback = DefaultModel
	}
	s := &Selector{dir: dir, rules: DefaultRules(priority), fallback: fallback}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SelectModel returns a model id; never empty.
func (s *Selector) SelectModel(ctx context.Context) string {
	return s.Select(ctx).Model
}

// Select resolves a model id and reports which rule produced it. It never
// fails: directory faults and empty listings resolve to the fallback id.
func (s *Selector) Select(ctx context.Context) Selection {
	sel := s.resolve(ctx)
	metrics.ModelSelections.WithLabelValues(sel.Rule).Inc()
	return sel
}

func (s *Selector) resolve(ctx context.Context) Selection {
	if s.cache != nil {
		v, ok, err := s.cache.Get(ctx, selectionCacheKey)
		if err != nil {
			logrus.Warnf("model selection cache read failed: %v", err)
		} else if ok && v != "" {
			return Selection{Model: v, Rule: RuleCache}
		}
	}

	fallback := Selection{Model: s.fallback, Rule: RuleDefault}
	if s.dir == nil {
		return fallback
	}
	listing, err := s.dir.ListGenerativeModels(ctx)
	if err != nil {
		logrus.WithField("fallback", s.fallback).Warnf("model directory lookup failed: %v", err)
		return fallback
	}
	sel, ok := Resolve(s.rules, listing)
	if !ok {
		logrus.WithField("fallback", s.fallback).Warn("model directory returned no generative models")
		return fallback
	}
	logrus.WithFields(logrus.Fields{"model": sel.Model, "rule": sel.Rule, "listed": len(listing)}).Debug("model selected")

	if s.cache != nil {
		if err := s.cache.Set(ctx, selectionCacheKey, sel.Model, s.ttl); err != nil {
			logrus.Warnf("model selection cache write failed: %v", err)
		}
	}
	return sel
}

// Invalidate drops a cached selection so the next call re-reads the listing.
func (s *Selector) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, selectionCacheKey)
}
