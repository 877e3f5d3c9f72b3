package asyncrt

// maxProbes bounds ProbeID. With a doubling step the 32nd probe would overflow
// a uint32 stride anyway.
const maxProbes = 32

// ProbeID looks for an id not reported by inUse, starting at *next.
//
// Each collision doubles the probe step so crowded regions are skipped
// quickly. On success *next is advanced past the returned id. It returns
// ok=false when the step would overflow or the probe budget is spent.
func ProbeID(next *uint32, inUse func(uint32) bool) (uint32, bool) {
	if next == nil {
		return 0, false
	}
	step := uint32(1)
	id := *next
	for probe := 0; probe < maxProbes; probe++ {
		if id != 0 && (inUse == nil || !inUse(id)) {
			*next = id + 1
			return id, true
		}
		id += step
		if step > ^uint32(0)/2 {
			return 0, false
		}
		step *= 2
	}
	return 0, false
}
