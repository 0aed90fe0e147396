package matching

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"bitbucket.org/stayshield/disputes_backend/models"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Strategy minimums and caps. A strategy only yields a match when its
// best candidate clears the minimum.
const (
	confirmationMinConfidence = 95
	cardLastFourMinConfidence = 70
	cardLastFourMaxConfidence = 90
	guestNameMinConfidence    = 40
	guestNameMaxConfidence    = 70
)

// stayWindowGrace extends the stay window for late card settlement.
const stayWindowGrace = 3 * 24 * time.Hour

// Input is the chargeback signal the engine matches against stored
// reservations.
type Input struct {
	TransactionDate time.Time
	Amount          decimal.Decimal
	CardBrand       string
	CardLastFour    string
	CardholderName  string
	ExternalRef     string
}

type Result struct {
	Reservation models.CanonicalReservation
	Confidence  int
	Strategy    models.MatchStrategy
}

// Evaluate runs the ordered strategies against the candidate set and stops
// at the first strategy that yields a candidate above its minimum. A nil
// result means the case stays unlinked for manual review.
func Evaluate(input Input, candidates []models.CanonicalReservation) *Result {
	if len(candidates) == 0 {
		return nil
	}

	if result := matchByConfirmationNumber(input, candidates); result != nil {
		return result
	}
	if result := matchByCardLastFour(input, candidates); result != nil {
		return result
	}
	return matchByGuestNameDate(input, candidates)
}

func matchByConfirmationNumber(input Input, candidates []models.CanonicalReservation) *Result {
	ref := normalizeText(input.ExternalRef)
	if ref == "" {
		return nil
	}
	var matched []models.CanonicalReservation
	for _, candidate := range candidates {
		if normalizeText(candidate.ConfirmationNumber) == ref {
			matched = append(matched, candidate)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	best := rankCandidates(input, matched)[0]

	confidence := 100
	if !withinStayWindow(input.TransactionDate, best, stayWindowGrace) {
		confidence = confirmationMinConfidence
	}
	return &Result{Reservation: best, Confidence: confidence, Strategy: models.MatchStrategyConfirmationNumber}
}

func matchByCardLastFour(input Input, candidates []models.CanonicalReservation) *Result {
	lastFour := strings.TrimSpace(input.CardLastFour)
	if len(lastFour) != 4 {
		return nil
	}
	var matched []models.CanonicalReservation
	for _, candidate := range candidates {
		if candidate.CardLastFour != lastFour {
			continue
		}
		if !withinStayWindow(input.TransactionDate, candidate, stayWindowGrace) {
			continue
		}
		matched = append(matched, candidate)
	}
	if len(matched) == 0 {
		return nil
	}
	best := rankCandidates(input, matched)[0]

	span := cardLastFourMaxConfidence - cardLastFourMinConfidence
	scale := (dateProximity(input.TransactionDate, best) + amountProximity(input.Amount, best.TotalAmount)) / 2
	confidence := cardLastFourMinConfidence + int(scale*float64(span)+0.5)
	if confidence > cardLastFourMaxConfidence {
		confidence = cardLastFourMaxConfidence
	}
	return &Result{Reservation: best, Confidence: confidence, Strategy: models.MatchStrategyCardLastFour}
}

func matchByGuestNameDate(input Input, candidates []models.CanonicalReservation) *Result {
	name := normalizeText(input.CardholderName)
	if name == "" {
		return nil
	}
	var matched []models.CanonicalReservation
	for _, candidate := range candidates {
		if textSimilarity(name, normalizeText(candidate.GuestName)) < 0.5 {
			continue
		}
		// Looser window than card matching: settlement can trail checkout
		// by a week.
		if !withinStayWindow(input.TransactionDate, candidate, 7*24*time.Hour) {
			continue
		}
		matched = append(matched, candidate)
	}
	if len(matched) == 0 {
		return nil
	}
	best := rankCandidates(input, matched)[0]

	span := guestNameMaxConfidence - guestNameMinConfidence
	similarity := textSimilarity(name, normalizeText(best.GuestName))
	confidence := guestNameMinConfidence + int(similarity*float64(span)+0.5)
	if confidence > guestNameMaxConfidence {
		confidence = guestNameMaxConfidence
	}
	if confidence < guestNameMinConfidence {
		return nil
	}
	return &Result{Reservation: best, Confidence: confidence, Strategy: models.MatchStrategyGuestNameDate}
}

// rankCandidates orders by the weighted composite score (date 40%, amount
// 35%, text 25%); ties broken by most recent UpdatedAt.
func rankCandidates(input Input, candidates []models.CanonicalReservation) []models.CanonicalReservation {
	ranked := make([]models.CanonicalReservation, len(candidates))
	copy(ranked, candidates)
	name := normalizeText(input.CardholderName)
	sort.SliceStable(ranked, func(i, j int) bool {
		scoreI := compositeScore(input, name, ranked[i])
		scoreJ := compositeScore(input, name, ranked[j])
		if scoreI != scoreJ {
			return scoreI > scoreJ
		}
		return ranked[i].UpdatedAt.After(ranked[j].UpdatedAt)
	})
	return ranked
}

func compositeScore(input Input, normalizedName string, candidate models.CanonicalReservation) float64 {
	return 0.40*dateProximity(input.TransactionDate, candidate) +
		0.35*amountProximity(input.Amount, candidate.TotalAmount) +
		0.25*textSimilarity(normalizedName, normalizeText(candidate.GuestName))
}

func withinStayWindow(txnDate time.Time, candidate models.CanonicalReservation, grace time.Duration) bool {
	if txnDate.IsZero() || candidate.CheckInDate.IsZero() || candidate.CheckOutDate.IsZero() {
		return false
	}
	start := candidate.CheckInDate.Add(-24 * time.Hour)
	end := candidate.CheckOutDate.Add(grace)
	return !txnDate.Before(start) && !txnDate.After(end)
}

// dateProximity is 1.0 when the transaction date falls inside the stay and
// decays linearly to 0 over two weeks outside it.
func dateProximity(txnDate time.Time, candidate models.CanonicalReservation) float64 {
	if txnDate.IsZero() || candidate.CheckInDate.IsZero() || candidate.CheckOutDate.IsZero() {
		return 0
	}
	var distance time.Duration
	switch {
	case txnDate.Before(candidate.CheckInDate):
		distance = candidate.CheckInDate.Sub(txnDate)
	case txnDate.After(candidate.CheckOutDate):
		distance = txnDate.Sub(candidate.CheckOutDate)
	default:
		return 1
	}
	const decay = 14 * 24 * time.Hour
	if distance >= decay {
		return 0
	}
	return 1 - float64(distance)/float64(decay)
}

// amountProximity is 1.0 for an exact amount and decays with relative
// difference.
func amountProximity(amount decimal.Decimal, total decimal.Decimal) float64 {
	if amount.IsZero() || total.IsZero() {
		return 0
	}
	diff := amount.Sub(total).Abs()
	larger := decimal.Max(amount.Abs(), total.Abs())
	ratio, _ := diff.Div(larger).Float64()
	if ratio >= 1 {
		return 0
	}
	return 1 - ratio
}

// normalizeText lowercases, strips diacritics, and collapses whitespace.
func normalizeText(value string) string {
	decomposed := norm.NFD.String(strings.ToLower(strings.TrimSpace(value)))
	var builder strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		builder.WriteRune(r)
	}
	return strings.Join(strings.Fields(builder.String()), " ")
}

// textSimilarity is the token overlap ratio between two normalized names.
func textSimilarity(a string, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)
	setB := make(map[string]bool, len(tokensB))
	for _, token := range tokensB {
		setB[token] = true
	}
	common := 0
	for _, token := range tokensA {
		if setB[token] {
			common++
		}
	}
	union := len(tokensA) + len(tokensB) - common
	if union == 0 {
		return 0
	}
	return float64(common) / float64(union)
}
