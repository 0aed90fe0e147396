package models_test

import (
	"testing"
	"time"

	"bitbucket.org/stayshield/disputes_backend/models"
	"github.com/shopspring/decimal"
)

func folioLine(id uint, day int, category models.FolioCategory, amount string) models.FolioLineItem {
	return models.FolioLineItem{
		ID:            id,
		ReservationId: 1,
		PropertyId:    "prop-1",
		PostingDate:   time.Date(2026, 2, day, 0, 0, 0, 0, time.UTC),
		Category:      category,
		Amount:        decimal.RequireFromString(amount),
		Currency:      "USD",
	}
}

// Regression: running balances must be computed over the chronological order,
// not the input order, and the final balance must equal charges minus payments.
func TestComputeRunningBalances_ChronologicalFinalBalance(t *testing.T) {
	lines := []models.FolioLineItem{
		folioLine(3, 3, models.FolioCategoryPayment, "-398.00"),
		folioLine(1, 1, models.FolioCategoryRoom, "179.00"),
		folioLine(4, 2, models.FolioCategoryTaxFee, "20.00"),
		folioLine(2, 2, models.FolioCategoryRoom, "179.00"),
		folioLine(5, 2, models.FolioCategoryIncidental, "20.00"),
	}

	out := models.ComputeRunningBalances(lines)
	if len(out) != len(lines) {
		t.Fatalf("expected %d lines, got %d", len(lines), len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].PostingDate.Before(out[i-1].PostingDate) {
			t.Fatalf("line %d posted before line %d", i, i-1)
		}
	}
	// Same posting date: lower id first.
	if out[1].ID != 2 || out[2].ID != 4 || out[3].ID != 5 {
		t.Fatalf("same-day lines out of order: %d, %d, %d", out[1].ID, out[2].ID, out[3].ID)
	}

	final := out[len(out)-1].RunningBalance
	if !final.Equal(decimal.Zero) {
		t.Fatalf("expected final balance 0, got %s", final)
	}

	charges := decimal.RequireFromString("398.00")
	payments := decimal.RequireFromString("398.00")
	if !final.Equal(charges.Sub(payments)) {
		t.Fatalf("final balance %s != charges-payments %s", final, charges.Sub(payments))
	}
}

func TestReconcileFolioBalance_Tolerance(t *testing.T) {
	lines := []models.FolioLineItem{
		folioLine(1, 1, models.FolioCategoryRoom, "100.00"),
		folioLine(2, 2, models.FolioCategoryTaxFee, "8.875"),
	}

	if err := models.ReconcileFolioBalance(lines, decimal.RequireFromString("108.88")); err != nil {
		t.Fatalf("within tolerance, got error: %v", err)
	}
	if err := models.ReconcileFolioBalance(lines, decimal.RequireFromString("108.90")); err == nil {
		t.Fatal("expected reconciliation error for 0.025 gap")
	}
}
