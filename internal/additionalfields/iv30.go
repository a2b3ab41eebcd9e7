package additionalfields

import (
	"math"
	"sort"
	"time"
)

// ATMIV30 computes a single file's ATM IV30: linear interpolation of IV
// between the two expiries bracketing D+30 days, using within each
// expiry the IV of the contract whose |delta - 0.5| is minimum. When D+30
// is bracketed on one side only, the nearest expiry on that side is used
// alone. Returns ok=false only when no row carries an IV.
func ATMIV30(rows []Row, d time.Time) (float64, bool) {
	target := d.AddDate(0, 0, 30)

	byExpiry := make(map[time.Time][]Row)
	for _, r := range rows {
		if !r.HasIV {
			continue
		}
		byExpiry[r.Expiry] = append(byExpiry[r.Expiry], r)
	}
	if len(byExpiry) == 0 {
		return 0, false
	}

	expiries := make([]time.Time, 0, len(byExpiry))
	for e := range byExpiry {
		expiries = append(expiries, e)
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })

	var near, far time.Time
	nearSet, farSet := false, false
	for _, e := range expiries {
		if !e.After(target) {
			near = e
			nearSet = true
		}
		if e.After(target) || e.Equal(target) {
			if !farSet || e.Before(far) {
				far = e
				farSet = true
			}
		}
	}
	if !nearSet && !farSet {
		return 0, false
	}
	if !nearSet {
		near = far
	}
	if !farSet {
		far = near
	}

	nearIV, ok := atmIVForExpiry(byExpiry[near])
	if !ok {
		return 0, false
	}
	if near.Equal(far) {
		return nearIV, true
	}
	farIV, ok := atmIVForExpiry(byExpiry[far])
	if !ok {
		return 0, false
	}

	totalDays := far.Sub(near).Hours() / 24
	if totalDays == 0 {
		return nearIV, true
	}
	farWeight := target.Sub(near).Hours() / 24 / totalDays
	nearWeight := far.Sub(target).Hours() / 24 / totalDays
	return nearWeight*nearIV + farWeight*farIV, true
}

func atmIVForExpiry(rows []Row) (float64, bool) {
	if len(rows) == 0 {
		return 0, false
	}
	best := rows[0]
	bestDist := math.Abs(best.Delta - 0.5)
	for _, r := range rows[1:] {
		dist := math.Abs(r.Delta - 0.5)
		if dist < bestDist {
			best, bestDist = r, dist
		}
	}
	return best.IV, true
}

// Series computes iv_30, iv_rank, and iv_percentile for the latest
// element of a date-ascending series of ATM IV30 values, per spec §4.7
// step 3. iv_rank/iv_percentile have ok=false when len(ivs) < 2.
func Series(ivs []float64) (iv30 float64, rank float64, percentile float64, rankOK bool) {
	if len(ivs) == 0 {
		return 0, 0, 0, false
	}
	latest := ivs[len(ivs)-1]
	if len(ivs) < 2 {
		return latest, 0, 0, false
	}

	minIV, maxIV := ivs[0], ivs[0]
	lessCount := 0
	for _, v := range ivs {
		if v < minIV {
			minIV = v
		}
		if v > maxIV {
			maxIV = v
		}
		if v < latest {
			lessCount++
		}
	}

	if maxIV == minIV {
		rank = 0
	} else {
		rank = (latest - minIV) / (maxIV - minIV)
	}
	percentile = float64(lessCount) / float64(len(ivs))
	return latest, rank, percentile, true
}
