package matching

import (
	"testing"
	"time"

	"bitbucket.org/stayshield/disputes_backend/models"
	"github.com/shopspring/decimal"
)

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("parse date %q: %v", value, err)
	}
	return parsed
}

func reservation(t *testing.T, id uint, confirmation string, guest string, checkIn string, checkOut string, amount string, lastFour string) models.CanonicalReservation {
	t.Helper()
	return models.CanonicalReservation{
		ID:                 id,
		ConfirmationNumber: confirmation,
		GuestName:          guest,
		CheckInDate:        mustDate(t, checkIn),
		CheckOutDate:       mustDate(t, checkOut),
		TotalAmount:        decimal.RequireFromString(amount),
		CardLastFour:       lastFour,
		UpdatedAt:          mustDate(t, checkOut),
	}
}

func TestEvaluateNoCandidates(t *testing.T) {
	input := Input{
		TransactionDate: mustDate(t, "2026-03-10"),
		Amount:          decimal.RequireFromString("250.00"),
	}
	if result := Evaluate(input, nil); result != nil {
		t.Fatalf("expected nil result for empty candidate set, got %+v", result)
	}
}

func TestConfirmationNumberWithinStayWindow(t *testing.T) {
	candidates := []models.CanonicalReservation{
		reservation(t, 1, "CNF-88421", "Alice Moran", "2026-03-08", "2026-03-12", "412.50", "1111"),
	}
	input := Input{
		TransactionDate: mustDate(t, "2026-03-10"),
		Amount:          decimal.RequireFromString("412.50"),
		ExternalRef:     "cnf-88421",
	}
	result := Evaluate(input, candidates)
	if result == nil {
		t.Fatal("expected a match")
	}
	if result.Strategy != models.MatchStrategyConfirmationNumber {
		t.Fatalf("strategy = %s, want %s", result.Strategy, models.MatchStrategyConfirmationNumber)
	}
	if result.Confidence != 100 {
		t.Fatalf("confidence = %d, want 100", result.Confidence)
	}
}

func TestConfirmationNumberOutsideStayWindow(t *testing.T) {
	candidates := []models.CanonicalReservation{
		reservation(t, 1, "CNF-88421", "Alice Moran", "2026-03-08", "2026-03-12", "412.50", "1111"),
	}
	input := Input{
		TransactionDate: mustDate(t, "2026-04-20"),
		Amount:          decimal.RequireFromString("412.50"),
		ExternalRef:     "CNF-88421",
	}
	result := Evaluate(input, candidates)
	if result == nil {
		t.Fatal("expected a match")
	}
	if result.Confidence != 95 {
		t.Fatalf("confidence = %d, want 95 for transaction outside the stay window", result.Confidence)
	}
}

func TestCardLastFourConfidenceBand(t *testing.T) {
	candidates := []models.CanonicalReservation{
		reservation(t, 1, "CNF-10001", "John Smith", "2026-02-01", "2026-02-04", "512.40", "4242"),
		reservation(t, 2, "CNF-10002", "Mary Jones", "2026-02-02", "2026-02-05", "780.00", "9999"),
	}
	input := Input{
		TransactionDate: mustDate(t, "2026-02-03"),
		Amount:          decimal.RequireFromString("512.40"),
		CardLastFour:    "4242",
		CardholderName:  "John Smith",
	}
	result := Evaluate(input, candidates)
	if result == nil {
		t.Fatal("expected a match")
	}
	if result.Strategy != models.MatchStrategyCardLastFour {
		t.Fatalf("strategy = %s, want %s", result.Strategy, models.MatchStrategyCardLastFour)
	}
	if result.Reservation.ID != 1 {
		t.Fatalf("matched reservation %d, want 1", result.Reservation.ID)
	}
	if result.Confidence < 70 || result.Confidence > 90 {
		t.Fatalf("confidence = %d, want within [70, 90]", result.Confidence)
	}
}

func TestCardLastFourPrefersCloserAmount(t *testing.T) {
	candidates := []models.CanonicalReservation{
		reservation(t, 1, "CNF-20001", "Pat Doe", "2026-02-01", "2026-02-04", "512.40", "4242"),
		reservation(t, 2, "CNF-20002", "Pat Doe", "2026-02-01", "2026-02-04", "99.00", "4242"),
	}
	input := Input{
		TransactionDate: mustDate(t, "2026-02-03"),
		Amount:          decimal.RequireFromString("512.40"),
		CardLastFour:    "4242",
	}
	result := Evaluate(input, candidates)
	if result == nil {
		t.Fatal("expected a match")
	}
	if result.Reservation.ID != 1 {
		t.Fatalf("matched reservation %d, want the amount-matching reservation 1", result.Reservation.ID)
	}
}

func TestGuestNameDateIgnoresDiacritics(t *testing.T) {
	candidates := []models.CanonicalReservation{
		reservation(t, 1, "CNF-30001", "José García", "2026-05-10", "2026-05-13", "310.00", "1111"),
	}
	input := Input{
		TransactionDate: mustDate(t, "2026-05-11"),
		Amount:          decimal.RequireFromString("310.00"),
		CardholderName:  "JOSE GARCIA",
	}
	result := Evaluate(input, candidates)
	if result == nil {
		t.Fatal("expected a fuzzy name match")
	}
	if result.Strategy != models.MatchStrategyGuestNameDate {
		t.Fatalf("strategy = %s, want %s", result.Strategy, models.MatchStrategyGuestNameDate)
	}
	if result.Confidence < 40 || result.Confidence > 70 {
		t.Fatalf("confidence = %d, want within [40, 70]", result.Confidence)
	}
	if result.Confidence != 70 {
		t.Fatalf("confidence = %d, want 70 for an exact normalized name", result.Confidence)
	}
}

func TestGuestNameDateRejectsDissimilarNames(t *testing.T) {
	candidates := []models.CanonicalReservation{
		reservation(t, 1, "CNF-40001", "Robert Chan", "2026-05-10", "2026-05-13", "310.00", "1111"),
	}
	input := Input{
		TransactionDate: mustDate(t, "2026-05-11"),
		Amount:          decimal.RequireFromString("310.00"),
		CardholderName:  "Wilhelmina Ortega",
	}
	if result := Evaluate(input, candidates); result != nil {
		t.Fatalf("expected no match for dissimilar names, got %+v", result)
	}
}

func TestStrategyPriorityConfirmationWins(t *testing.T) {
	candidates := []models.CanonicalReservation{
		reservation(t, 1, "CNF-50001", "John Smith", "2026-06-01", "2026-06-04", "512.40", "4242"),
		reservation(t, 2, "CNF-50002", "John Smith", "2026-06-01", "2026-06-04", "512.40", "4242"),
	}
	input := Input{
		TransactionDate: mustDate(t, "2026-06-02"),
		Amount:          decimal.RequireFromString("512.40"),
		CardLastFour:    "4242",
		CardholderName:  "John Smith",
		ExternalRef:     "CNF-50002",
	}
	result := Evaluate(input, candidates)
	if result == nil {
		t.Fatal("expected a match")
	}
	if result.Strategy != models.MatchStrategyConfirmationNumber {
		t.Fatalf("strategy = %s, want confirmation number to take priority", result.Strategy)
	}
	if result.Reservation.ID != 2 {
		t.Fatalf("matched reservation %d, want 2", result.Reservation.ID)
	}
}

func TestTieBreakByMostRecentUpdate(t *testing.T) {
	older := reservation(t, 1, "CNF-60001", "Casey Lane", "2026-07-01", "2026-07-04", "200.00", "4242")
	older.UpdatedAt = mustDate(t, "2026-07-04")
	newer := reservation(t, 2, "CNF-60002", "Casey Lane", "2026-07-01", "2026-07-04", "200.00", "4242")
	newer.UpdatedAt = mustDate(t, "2026-07-06")

	input := Input{
		TransactionDate: mustDate(t, "2026-07-02"),
		Amount:          decimal.RequireFromString("200.00"),
		CardLastFour:    "4242",
	}
	result := Evaluate(input, []models.CanonicalReservation{older, newer})
	if result == nil {
		t.Fatal("expected a match")
	}
	if result.Reservation.ID != 2 {
		t.Fatalf("matched reservation %d, want most recently updated reservation 2", result.Reservation.ID)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	candidates := []models.CanonicalReservation{
		reservation(t, 1, "CNF-70001", "Dana West", "2026-08-01", "2026-08-03", "150.00", "4242"),
		reservation(t, 2, "CNF-70002", "Dana West", "2026-08-02", "2026-08-05", "150.00", "4242"),
		reservation(t, 3, "CNF-70003", "Dana West", "2026-08-03", "2026-08-06", "150.00", "4242"),
	}
	input := Input{
		TransactionDate: mustDate(t, "2026-08-03"),
		Amount:          decimal.RequireFromString("150.00"),
		CardLastFour:    "4242",
	}
	first := Evaluate(input, candidates)
	if first == nil {
		t.Fatal("expected a match")
	}
	for i := 0; i < 50; i++ {
		again := Evaluate(input, candidates)
		if again == nil {
			t.Fatalf("run %d: expected a match", i)
		}
		if again.Reservation.ID != first.Reservation.ID || again.Confidence != first.Confidence || again.Strategy != first.Strategy {
			t.Fatalf("run %d: result changed from (%d, %d, %s) to (%d, %d, %s)",
				i, first.Reservation.ID, first.Confidence, first.Strategy,
				again.Reservation.ID, again.Confidence, again.Strategy)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  JOSÉ   García ", "jose garcia"},
		{"CNF-88421", "cnf-88421"},
		{"", ""},
		{"Łukasz", "łukasz"},
	}
	for _, tc := range cases {
		if got := normalizeText(tc.in); got != tc.want {
			t.Fatalf("normalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
