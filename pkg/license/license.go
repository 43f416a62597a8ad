package license

import (
	"time"
)

// Status is a license lifecycle state. The empty value means
// auto-calculate: the effective state is derived from the date window.
type Status string

const (
	StatusAuto        Status = ""
	StatusActive      Status = "active"
	StatusDeactivated Status = "deactivated"
	StatusRevoked     Status = "revoked"
	StatusExpired     Status = "expired"
	StatusSuspended   Status = "suspended"
)

// License is an issued entitlement for one hosted application.
type License struct {
	ID                int64     `json:"id"`
	AppID             int64     `json:"app_id"`
	OwnerID           int64     `json:"owner_id"`
	Key               string    `json:"key"`
	ServiceID         string    `json:"service_id,omitempty"`
	Stored            Status    `json:"status"`
	StartDate         time.Time `json:"start_date,omitempty"`
	EndDate           time.Time `json:"end_date,omitempty"`
	MaxAllowedDomains int       `json:"max_allowed_domains"`
	ActivatedDomains  []string  `json:"activated_domains"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EffectiveStatus derives the authorization-relevant state at the given
// instant. Stored administrative overrides win; otherwise the date
// window decides. This is recomputed on every read, never cached, so a
// stored "active" past its end date is expired everywhere.
func (l *License) EffectiveStatus(now time.Time) Status {
	switch l.Stored {
	case StatusRevoked, StatusSuspended, StatusDeactivated:
		return l.Stored
	}
	if !l.EndDate.IsZero() && now.After(l.EndDate) {
		return StatusExpired
	}
	if !l.StartDate.IsZero() && now.Before(l.StartDate) {
		return StatusExpired
	}
	return StatusActive
}

// HasDomain reports whether the domain is in the activated set.
func (l *License) HasDomain(domain string) bool {
	for _, d := range l.ActivatedDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// AtCapacity reports whether another domain activation would exceed the
// ceiling.
func (l *License) AtCapacity() bool {
	return len(l.ActivatedDomains) >= l.MaxAllowedDomains
}
