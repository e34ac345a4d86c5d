package model

import "time"

// CapabilitySource names where a scope's winning tier came from.
type CapabilitySource string

const (
	SourcePass         CapabilitySource = "pass"
	SourceSubscription CapabilitySource = "subscription"
	SourceFree         CapabilitySource = "free"
)

// ScopeCapabilities is the resolved view of one scope.
type ScopeCapabilities struct {
	Scope       string           `json:"scope"`
	Tier        string           `json:"tier"`
	TierRank    int              `json:"tier_rank"`
	ProductID   string           `json:"product_id,omitempty"`
	Source      CapabilitySource `json:"source"`
	Allowances  map[string]int64 `json:"allowances"`
	Limits      map[string]int64 `json:"limits"`
	Flags       map[string]bool  `json:"flags"`
	ActiveUntil *time.Time       `json:"active_until,omitempty"`
}

// Capabilities is the effective capability snapshot for a user across all scopes.
type Capabilities struct {
	UserID     string                       `json:"user_id"`
	Scopes     map[string]ScopeCapabilities `json:"scopes"`
	ComputedAt time.Time                    `json:"computed_at"`
}

// Scope returns the scope view, or a free view with no keys if absent.
func (c *Capabilities) Scope(scope string) ScopeCapabilities {
	if sc, ok := c.Scopes[scope]; ok {
		return sc
	}
	return ScopeCapabilities{Scope: scope, Tier: TierFree, Source: SourceFree}
}

// Allowance finds an included allowance in any scope.
func (c *Capabilities) Allowance(key string) (int64, ScopeCapabilities, bool) {
	for _, scope := range Scopes {
		sc, ok := c.Scopes[scope]
		if !ok {
			continue
		}
		if v, ok := sc.Allowances[key]; ok {
			return v, sc, true
		}
	}
	return 0, ScopeCapabilities{}, false
}

// Limit finds a standing cap in any scope.
func (c *Capabilities) Limit(key string) (int64, bool) {
	for _, scope := range Scopes {
		if v, ok := c.Scopes[scope].Limits[key]; ok {
			return v, true
		}
	}
	return 0, false
}

// Feature reports whether any scope enables the flag.
func (c *Capabilities) Feature(key string) bool {
	for _, sc := range c.Scopes {
		if sc.Flags[key] {
			return true
		}
	}
	return false
}
