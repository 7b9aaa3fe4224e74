package permission

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

type rule struct {
	pattern string
	action  Action
	literal int
}

// Policy evaluates tool names against configured rules and remembered grants.
type Policy struct {
	mu         sync.RWMutex
	rules      []rule
	tools      map[string]bool
	extensions map[string]bool
}

// NewPolicy compiles rules mapping tool name patterns to allow, ask or deny.
func NewPolicy(rules map[string]string) (*Policy, error) {
	p := &Policy{
		tools:      make(map[string]bool),
		extensions: make(map[string]bool),
	}
	for pattern, raw := range rules {
		action, ok := ParsePolicyAction(raw)
		if !ok {
			return nil, fmt.Errorf("permission %q: invalid action %q", pattern, raw)
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("permission %q: invalid pattern", pattern)
		}
		p.rules = append(p.rules, rule{pattern: pattern, action: action, literal: literalLen(pattern)})
	}
	sort.Slice(p.rules, func(i, j int) bool {
		a, b := p.rules[i], p.rules[j]
		if a.literal != b.literal {
			return a.literal > b.literal
		}
		if len(a.pattern) != len(b.pattern) {
			return len(a.pattern) > len(b.pattern)
		}
		return a.pattern < b.pattern
	})
	return p, nil
}

// literalLen counts pattern characters that are not glob syntax.
func literalLen(pattern string) int {
	n := 0
	for _, r := range pattern {
		if !strings.ContainsRune("*?[]{}!,\\", r) {
			n++
		}
	}
	return n
}

// Evaluate returns the action for a tool. Remembered grants win over rules;
// a tool no rule matches is ActionAsk.
func (p *Policy) Evaluate(tool string) Action {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.tools[tool] {
		return ActionAllow
	}
	if ext := ExtensionOf(tool); ext != "" && p.extensions[ext] {
		return ActionAllow
	}
	for _, r := range p.rules {
		if ok, _ := doublestar.Match(r.pattern, tool); ok {
			return r.action
		}
	}
	return ActionAsk
}

// Granted reports whether an AlwaysAllow grant covers the tool, ignoring
// configured rules.
func (p *Policy) Granted(tool string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.tools[tool] {
		return true
	}
	ext := ExtensionOf(tool)
	return ext != "" && p.extensions[ext]
}

// Remember records an AlwaysAllow confirmation. Other decisions are not
// remembered.
func (p *Policy) Remember(tool string, c Confirmation) {
	if c.Permission != AlwaysAllow {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.PrincipalType == PrincipalExtension {
		if ext := ExtensionOf(tool); ext != "" {
			p.extensions[ext] = true
			return
		}
	}
	p.tools[tool] = true
}

// Forget drops every remembered grant.
func (p *Policy) Forget() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tools = make(map[string]bool)
	p.extensions = make(map[string]bool)
}

// Rules returns the configured rules, most specific first.
func (p *Policy) Rules() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.rules))
	for i, r := range p.rules {
		out[i] = r.pattern + "=" + string(r.action)
	}
	return out
}
