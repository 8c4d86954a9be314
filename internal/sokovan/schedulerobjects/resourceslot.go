package schedulerobjects

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ResourceSlot is a sparse vector of named resource quantities
// (e.g., "cpu", "mem", "cuda.shares"). Missing keys are treated as zero.
// All operations are non-mutating and return new slots.
type ResourceSlot map[string]decimal.Decimal

// Get returns the quantity for the given resource, or zero if absent.
func (rs ResourceSlot) Get(resource string) decimal.Decimal {
	if q, ok := rs[resource]; ok {
		return q
	}
	return decimal.Zero
}

func (rs ResourceSlot) DeepCopy() ResourceSlot {
	rv := make(ResourceSlot, len(rs))
	for t, q := range rs {
		rv[t] = q
	}
	return rv
}

// Add returns the key-wise sum of rs and other.
func (rs ResourceSlot) Add(other ResourceSlot) ResourceSlot {
	rv := rs.DeepCopy()
	for t, q := range other {
		rv[t] = rv.Get(t).Add(q)
	}
	return rv
}

// Sub returns the key-wise difference rs - other. Results may be negative;
// callers comparing against requests should use GEQ instead of checking signs.
func (rs ResourceSlot) Sub(other ResourceSlot) ResourceSlot {
	rv := rs.DeepCopy()
	for t, q := range other {
		rv[t] = rv.Get(t).Sub(q)
	}
	return rv
}

// Scale returns rs with every quantity multiplied by factor.
func (rs ResourceSlot) Scale(factor decimal.Decimal) ResourceSlot {
	rv := make(ResourceSlot, len(rs))
	for t, q := range rs {
		rv[t] = q.Mul(factor)
	}
	return rv
}

// GEQ reports whether rs covers other, i.e., for every resource in other
// the quantity in rs is at least as large. Resources absent from other are
// not considered.
func (rs ResourceSlot) GEQ(other ResourceSlot) bool {
	for t, q := range other {
		if rs.Get(t).LessThan(q) {
			return false
		}
	}
	return true
}

func (rs ResourceSlot) Equal(other ResourceSlot) bool {
	for t, q := range rs {
		if !q.Equal(other.Get(t)) {
			return false
		}
	}
	for t, q := range other {
		if !q.Equal(rs.Get(t)) {
			return false
		}
	}
	return true
}

// IsZero returns true if all quantities in rs are zero.
func (rs ResourceSlot) IsZero() bool {
	for _, q := range rs {
		if !q.IsZero() {
			return false
		}
	}
	return true
}

// Keys returns the resource names in rs in sorted order.
func (rs ResourceSlot) Keys() []string {
	keys := maps.Keys(rs)
	slices.Sort(keys)
	return keys
}

func (rs ResourceSlot) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, t := range rs.Keys() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t)
		sb.WriteString("=")
		sb.WriteString(rs[t].String())
	}
	sb.WriteString("}")
	return sb.String()
}

// MustResourceSlot builds a ResourceSlot from decimal strings.
// It panics on malformed input and is intended for tests and static tables.
func MustResourceSlot(quantities map[string]string) ResourceSlot {
	rv := make(ResourceSlot, len(quantities))
	for t, s := range quantities {
		rv[t] = decimal.RequireFromString(s)
	}
	return rv
}
