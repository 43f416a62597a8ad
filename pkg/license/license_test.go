package license

import (
	"testing"
	"time"
)

func TestEffectiveStatusDerivation(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-30 * 24 * time.Hour)
	future := now.Add(30 * 24 * time.Hour)

	cases := []struct {
		name string
		l    License
		want Status
	}{
		{"auto within window", License{StartDate: past, EndDate: future}, StatusActive},
		{"auto no dates", License{}, StatusActive},
		{"auto past end date", License{EndDate: past}, StatusExpired},
		{"auto before start date", License{StartDate: future}, StatusExpired},
		{"stored active past end date", License{Stored: StatusActive, EndDate: past}, StatusExpired},
		{"revoked overrides valid window", License{Stored: StatusRevoked, StartDate: past, EndDate: future}, StatusRevoked},
		{"suspended overrides valid window", License{Stored: StatusSuspended}, StatusSuspended},
		{"deactivated overrides valid window", License{Stored: StatusDeactivated}, StatusDeactivated},
		{"revoked overrides expiry", License{Stored: StatusRevoked, EndDate: past}, StatusRevoked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.l.EffectiveStatus(now); got != tc.want {
				t.Errorf("EffectiveStatus = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestDomainHelpers(t *testing.T) {
	l := License{MaxAllowedDomains: 2, ActivatedDomains: []string{"a.example.com"}}
	if !l.HasDomain("a.example.com") || l.HasDomain("b.example.com") {
		t.Error("HasDomain membership is wrong")
	}
	if l.AtCapacity() {
		t.Error("one of two slots used is not at capacity")
	}
	l.ActivatedDomains = append(l.ActivatedDomains, "b.example.com")
	if !l.AtCapacity() {
		t.Error("full set should be at capacity")
	}
}
