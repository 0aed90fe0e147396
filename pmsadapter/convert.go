package pmsadapter

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}

func parseVendorTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseVendorTimePtr(value string) *time.Time {
	t := parseVendorTime(value)
	if t.IsZero() {
		return nil
	}
	return &t
}

// mapReservationStatus folds vendor status strings onto the canonical set.
func mapReservationStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "CONFIRMED", "RESERVED", "GUARANTEED":
		return "confirmed"
	case "CHECKED_IN", "CHECKEDIN", "INHOUSE", "IN_HOUSE":
		return "checked_in"
	case "CHECKED_OUT", "CHECKEDOUT", "DEPARTED":
		return "checked_out"
	case "CANCELLED", "CANCELED":
		return "cancelled"
	case "NO_SHOW", "NOSHOW":
		return "no_show"
	default:
		return "confirmed"
	}
}

// mapFolioCategory folds vendor transaction-code groups onto canonical
// folio categories.
func mapFolioCategory(category string) string {
	switch strings.ToUpper(strings.TrimSpace(category)) {
	case "ROOM", "LODGING", "ACCOMMODATION":
		return "ROOM"
	case "TAX", "TAX_FEE", "FEE", "CITY_TAX", "RESORT_FEE":
		return "TAX_FEE"
	case "FOOD_BEVERAGE", "F&B", "FB", "RESTAURANT", "MINIBAR":
		return "FOOD_BEVERAGE"
	case "INCIDENTAL", "SPA", "PARKING", "LAUNDRY":
		return "INCIDENTAL"
	case "PAYMENT", "DEPOSIT", "SETTLEMENT":
		return "PAYMENT"
	case "ADJUSTMENT", "CORRECTION", "REBATE":
		return "ADJUSTMENT"
	default:
		return "OTHER"
	}
}
