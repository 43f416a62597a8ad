package files

// DefaultSafetyFactor leaves headroom below the smallest configured
// limit when sizing in-memory payloads.
const DefaultSafetyFactor = 0.8

// probeSize is the small allocation used to detect imminent memory
// exhaustion before building a large in-memory document.
const probeSize = 1 << 20

// Limits are the configured payload ceilings, in bytes. Zero values are
// ignored when computing the safe ceiling.
type Limits struct {
	UploadLimit  int64
	PostLimit    int64
	MemoryLimit  int64
	SafetyFactor float64
}

// SafeCeiling is the largest in-memory payload the pipeline will build:
// the smallest configured limit scaled by the safety factor. Zero when
// no limit is configured, meaning unlimited.
func (l Limits) SafeCeiling() int64 {
	min := int64(0)
	for _, v := range []int64{l.UploadLimit, l.PostLimit, l.MemoryLimit} {
		if v <= 0 {
			continue
		}
		if min == 0 || v < min {
			min = v
		}
	}
	if min == 0 {
		return 0
	}
	factor := l.SafetyFactor
	if factor <= 0 || factor > 1 {
		factor = DefaultSafetyFactor
	}
	return int64(float64(min) * factor)
}

// Allows reports whether an in-memory payload of the given size fits
// under the ceiling and a small probe allocation succeeds.
func (l Limits) Allows(size int64) bool {
	if ceiling := l.SafeCeiling(); ceiling > 0 && size > ceiling {
		return false
	}
	return allocProbe()
}

// allocProbe makes a best-effort small allocation; a panic here means
// memory is already exhausted and a large payload must not be built.
func allocProbe() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	buf := make([]byte, probeSize)
	_ = buf[probeSize-1]
	return true
}
