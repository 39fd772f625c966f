// internal/rating/glicko2.go
package rating

import (
	"math"
	"time"

	"github.com/skirmish-gg/skirmish/internal/models"
)

const (
	// GlickoScale is the multiplier used for converting between the public
	// 1500-based scale and Glicko2's mu.
	GlickoScale = 173.7178
	// DefaultRating is the baseline rating for a new player.
	DefaultRating = 1500.0
	// DefaultRD is the baseline rating deviation for a new player.
	DefaultRD = 350.0
	// DefaultVolatility is the baseline sigma for a new player.
	DefaultVolatility = 0.06
	// Tau is the constraint on volatility changes.
	Tau = 0.5
	// Epsilon is the tolerance used in iteration stopping conditions.
	Epsilon = 0.000001

	// inactivityPeriod is one Glicko rating period for RD widening purposes.
	inactivityPeriod = 7 * 24 * time.Hour
)

// glicko2 holds the transformed rating (mu), rating deviation (phi) and
// volatility (sigma) for one player in Glicko2 space.
type glicko2 struct {
	mu    float64
	phi   float64
	sigma float64
}

func toGlicko2(rating, rd, sigma float64) glicko2 {
	return glicko2{
		mu:    (rating - DefaultRating) / GlickoScale,
		phi:   rd / GlickoScale,
		sigma: sigma,
	}
}

func (r glicko2) rating() float64 { return r.mu*GlickoScale + DefaultRating }
func (r glicko2) rd() float64     { return r.phi * GlickoScale }

// NewRecord returns a baseline RatingRecord for a player who has never played.
func NewRecord(seasonID, playerID, username string) models.RatingRecord {
	return models.RatingRecord{
		PlayerID:   playerID,
		SeasonID:   seasonID,
		Username:   username,
		Rating:     DefaultRating,
		RD:         DefaultRD,
		Volatility: DefaultVolatility,
	}
}

// scoreFor maps a match outcome (from the first player's perspective) to the
// Glicko score in [0..1].
func scoreFor(outcome models.MatchOutcome) float64 {
	switch outcome {
	case models.OutcomeWin:
		return 1.0
	case models.OutcomeLoss:
		return 0.0
	default:
		return 0.5
	}
}

// UpdatePair computes new rating state for both sides of a completed match.
// outcome is from a's perspective. Both records have their RD widened for
// inactivity before the update, so a returning player's rating moves more.
func UpdatePair(a, b models.RatingRecord, outcome models.MatchOutcome, now time.Time) (models.RatingRecord, models.RatingRecord) {
	scoreA := scoreFor(outcome)

	ra := toGlicko2(a.Rating, widenedRD(a, now), a.Volatility)
	rb := toGlicko2(b.Rating, widenedRD(b, now), b.Volatility)

	newA := updateGlicko(ra, rb, scoreA)
	newB := updateGlicko(rb, ra, 1.0-scoreA)

	a = applyResult(a, newA, scoreA, now)
	b = applyResult(b, newB, 1.0-scoreA, now)
	return a, b
}

// widenedRD grows a player's RD for the rating periods they sat out, capped
// at the baseline uncertainty of a brand-new player.
func widenedRD(rec models.RatingRecord, now time.Time) float64 {
	if rec.LastActiveAt.IsZero() {
		return rec.RD
	}
	periods := now.Sub(rec.LastActiveAt) / inactivityPeriod
	if periods <= 0 {
		return rec.RD
	}
	phi := rec.RD / GlickoScale
	sigma := rec.Volatility
	for i := time.Duration(0); i < periods; i++ {
		phi = math.Sqrt(phi*phi + sigma*sigma)
	}
	rd := phi * GlickoScale
	if rd > DefaultRD {
		rd = DefaultRD
	}
	return rd
}

// applyResult folds a Glicko2 update plus bookkeeping into a RatingRecord.
func applyResult(rec models.RatingRecord, g glicko2, score float64, now time.Time) models.RatingRecord {
	rec.Rating = g.rating()
	rec.RD = g.rd()
	rec.Volatility = g.sigma
	rec.MatchesPlayed++
	rec.LastActiveAt = now
	switch {
	case score > 0.5:
		rec.Wins++
		if rec.Streak < 0 {
			rec.Streak = 0
		}
		rec.Streak++
	case score < 0.5:
		rec.Losses++
		if rec.Streak > 0 {
			rec.Streak = 0
		}
		rec.Streak--
	default:
		rec.Streak = 0
	}
	return rec
}

// updateGlicko performs a single-match Glicko2 update with volatility for a
// player r against an opponent rOpp, given the final score in [0..1].
func updateGlicko(r, rOpp glicko2, score float64) glicko2 {
	gVal := g(rOpp.phi)
	EVal := expected(r.mu, rOpp.mu, rOpp.phi)

	v := 1.0 / (gVal * gVal * EVal * (1 - EVal))
	delta := v * gVal * (score - EVal)

	a := math.Log(r.sigma * r.sigma)
	A := a
	var B float64
	if delta*delta > r.phi*r.phi+v {
		B = math.Log(delta*delta - r.phi*r.phi - v)
	} else {
		k := 1.0
		for f(a-k*Tau, r.phi, v, delta, A) < 0 {
			k++
		}
		B = a - k*Tau
	}

	fA := func(x float64) float64 {
		return f(x, r.phi, v, delta, A)
	}

	fB := fA(B)
	for i := 0; i < 100; i++ {
		fAVal := fA(A)
		if math.Abs(fAVal) < Epsilon {
			break
		}
		A1 := A
		A = A1 - fAVal*(A1-B)/(fAVal-fB)
		fB = fA(B)
		if math.Abs(A-B) < Epsilon {
			break
		}
	}
	newSigma := math.Exp(A / 2)
	phiStar := math.Sqrt(r.phi*r.phi + newSigma*newSigma)
	phiPrime := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muPrime := r.mu + phiPrime*phiPrime*gVal*(score-EVal)

	return glicko2{
		mu:    muPrime,
		phi:   phiPrime,
		sigma: newSigma,
	}
}

// g is the G(phi) factor from Glicko2, 1/sqrt(1+3phi^2/pi^2).
func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/math.Pi/math.Pi)
}

// expected is the expected score in Glicko2 space.
func expected(mu, mu2, phi2 float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phi2)*(mu-mu2)))
}

// f is the Glicko2 volatility root-finding function.
func f(x, phi, v, delta, a float64) float64 {
	ex := math.Exp(x)
	num := ex * (delta*delta - phi*phi - v - ex)
	den := 2.0 * (phi*phi + v + ex) * (phi*phi + v + ex)
	return (num / den) - ((x - a) / (Tau * Tau))
}
