package files

import "testing"

func TestSafeCeiling(t *testing.T) {
	cases := []struct {
		name   string
		limits Limits
		want   int64
	}{
		{"smallest limit wins", Limits{UploadLimit: 1000, PostLimit: 500, MemoryLimit: 2000}, 400},
		{"zero limits ignored", Limits{PostLimit: 1000}, 800},
		{"no limits means unlimited", Limits{}, 0},
		{"explicit factor", Limits{PostLimit: 1000, SafetyFactor: 0.5}, 500},
		{"invalid factor falls back", Limits{PostLimit: 1000, SafetyFactor: 3}, 800},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.limits.SafeCeiling(); got != tc.want {
				t.Errorf("SafeCeiling() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAllows(t *testing.T) {
	l := Limits{PostLimit: 1000}
	if !l.Allows(800) {
		t.Error("payload at the ceiling should pass")
	}
	if l.Allows(801) {
		t.Error("payload over the ceiling must fail")
	}
	if !(Limits{}).Allows(1 << 30) {
		t.Error("unlimited config only runs the probe")
	}
}
