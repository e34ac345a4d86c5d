package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Capability keys read by the gates.
const (
	KeyJobPostsMaxActive      = "employer.posts.job.max_active"
	KeyGigPostsMaxActive      = "employer.posts.gig.max_active"
	KeyContactUnlocksIncluded = "employer.unlocks.contact.included"
	KeyRfqResponsesMaxActive  = "vendor.rfq.responses.max_active"
)

// Unlimited is the canonical "no cap" value. Any value at or above
// UnlimitedThreshold is treated the same way.
const (
	Unlimited          int64 = -1
	UnlimitedThreshold int64 = 999
)

// IsUnlimited reports whether a numeric capability means "no cap".
func IsUnlimited(n int64) bool {
	return n < 0 || n >= UnlimitedThreshold
}

// IsAllowanceKey reports whether a numeric key is a per-period included allowance
// rather than a standing cap.
func IsAllowanceKey(key string) bool {
	return strings.Contains(key, "included")
}

// CapabilityKind tags the variant held by a CapabilityValue.
type CapabilityKind uint8

const (
	KindNumeric CapabilityKind = iota + 1
	KindFlag
)

func (k CapabilityKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindFlag:
		return "flag"
	default:
		return "unknown"
	}
}

// CapabilityValue is either a numeric limit or a boolean feature flag.
// The zero value is invalid.
type CapabilityValue struct {
	kind CapabilityKind
	num  int64
	flag bool
}

// Numeric returns a numeric capability value.
func Numeric(n int64) CapabilityValue { return CapabilityValue{kind: KindNumeric, num: n} }

// Flag returns a boolean capability value.
func Flag(b bool) CapabilityValue { return CapabilityValue{kind: KindFlag, flag: b} }

func (v CapabilityValue) Kind() CapabilityKind { return v.kind }
func (v CapabilityValue) Valid() bool { return v.kind == KindNumeric || v.kind == KindFlag }

// Int returns the numeric value and whether v is numeric.
func (v CapabilityValue) Int() (int64, bool) { return v.num, v.kind == KindNumeric }

// Bool returns the flag value and whether v is a flag.
func (v CapabilityValue) Bool() (bool, bool) { return v.flag, v.kind == KindFlag }

func (v CapabilityValue) String() string {
	switch v.kind {
	case KindNumeric:
		return fmt.Sprintf("%d", v.num)
	case KindFlag:
		return fmt.Sprintf("%t", v.flag)
	default:
		return "<invalid>"
	}
}

func (v CapabilityValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumeric:
		return json.Marshal(v.num)
	case KindFlag:
		return json.Marshal(v.flag)
	default:
		return nil, fmt.Errorf("marshal capability value: %w", ErrInvalidInput)
	}
}

func (v *CapabilityValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Flag(b)
		return nil
	default:
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("capability value %s: %w", data, ErrInvalidInput)
		}
		*v = Numeric(n)
		return nil
	}
}

// Entitlement is one capability granted by a product.
type Entitlement struct {
	ProductID string          `db:"product_id" json:"product_id"`
	Key       string          `db:"entitlement_key" json:"key"`
	Value     CapabilityValue `db:"value" json:"value"`
}

// FreeTierDefaults holds the capabilities every user has in each scope without a
// live pass or subscription. Paid products inherit any key they do not declare.
var FreeTierDefaults = map[string]map[string]CapabilityValue{
	ScopeEmployer: {
		KeyJobPostsMaxActive:      Numeric(2),
		KeyGigPostsMaxActive:      Numeric(2),
		KeyContactUnlocksIncluded: Numeric(0),
	},
	ScopeVendor: {
		KeyRfqResponsesMaxActive: Numeric(3),
	},
}
