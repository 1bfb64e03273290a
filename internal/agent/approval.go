package agent

import (
	"github.com/haasonsaas/subagent/internal/tools/policy"
)

// ApprovalPolicy marks tools that require a human decision before
// executing. Sub-agents run with nobody watching, so a definition that
// carries one is rejected outright at driver construction: there is no
// queue-and-wait path, and silently skipping the gate would be worse than
// refusing to start.
//
// The type survives (rather than a bare bool) so hosts that share
// definition files with an interactive runtime can express the policy and
// have this engine refuse it with a precise error.
type ApprovalPolicy struct {
	// RequireApproval lists tool names/patterns that need a human
	// decision. Patterns use the same matching rules as tool policies.
	RequireApproval []string `yaml:"require_approval" json:"require_approval"`

	// Denylist lists tools that are never allowed even with approval.
	Denylist []string `yaml:"denylist" json:"denylist"`
}

// Covers reports whether the policy would gate the named tool. Used in
// diagnostics when rejecting a definition.
func (p *ApprovalPolicy) Covers(name string, resolver *policy.Resolver) bool {
	if p == nil {
		return false
	}
	if matchesToolPatterns(p.Denylist, name, resolver) {
		return true
	}
	return matchesToolPatterns(p.RequireApproval, name, resolver)
}
