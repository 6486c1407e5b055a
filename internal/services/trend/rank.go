package trend

import (
	"sort"

	"KrakenPulse/internal/domain/models"
)

// RankAlerts orders alerts by volume change, strongest first, and keeps the
// top n (n <= 0 keeps all). Undefined volume change ranks as zero.
func RankAlerts(alerts []models.TrendAlert, n int) []models.TrendAlert {
	out := make([]models.TrendAlert, len(alerts))
	copy(out, alerts)
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := volumeKey(out[i]), volumeKey(out[j])
		if vi != vj {
			return vi > vj
		}
		return out[i].Instrument < out[j].Instrument
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func volumeKey(a models.TrendAlert) float64 {
	if a.VolumeChangePct == nil {
		return 0
	}
	return *a.VolumeChangePct
}
