package trajectory

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises a trajectory for diagnostics.
type Stats struct {
	Count        int     `json:"count"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Duration     float64 `json:"duration_s"`
	PathLength   float64 `json:"path_length_m"`
	MeanInterval float64 `json:"mean_interval_s"`
	StdInterval  float64 `json:"std_interval_s"`
	MaxGap       float64 `json:"max_gap_s"`
	MaxGapAt     float64 `json:"max_gap_at"`
	MeanSpeed    float64 `json:"mean_speed_mps"`
	MaxSpeed     float64 `json:"max_speed_mps"`
}

// Summarize computes sampling and motion statistics over the store.
func (s *Store) Summarize() Stats {
	st := Stats{
		Count:    s.Len(),
		Start:    s.MinTime(),
		End:      s.MaxTime(),
		Duration: s.Span(),
	}
	if s.Len() < 2 {
		return st
	}

	intervals := make([]float64, 0, s.Len()-1)
	for i := 1; i < len(s.samples); i++ {
		prev, cur := s.samples[i-1], s.samples[i]
		dt := cur.Time - prev.Time
		intervals = append(intervals, dt)

		dist := position(cur).Sub(position(prev)).Norm()
		st.PathLength += dist
		if speed := dist / dt; speed > st.MaxSpeed {
			st.MaxSpeed = speed
		}
		if dt > st.MaxGap {
			st.MaxGap = dt
			st.MaxGapAt = prev.Time
		}
	}

	st.MeanInterval, st.StdInterval = stat.MeanStdDev(intervals, nil)
	if math.IsNaN(st.StdInterval) {
		st.StdInterval = 0
	}
	if st.Duration > 0 {
		st.MeanSpeed = st.PathLength / st.Duration
	}
	return st
}

func position(s Sample) r3.Vector {
	return r3.Vector{X: s.Easting, Y: s.Northing, Z: s.Height}
}
