package models_test

import (
	"testing"

	"bitbucket.org/stayshield/disputes_backend/models"
)

func TestValidateChargebackTransition(t *testing.T) {
	valid := [][2]string{
		{models.ChargebackStatusReceived, models.ChargebackStatusEvidenceBuilding},
		{models.ChargebackStatusEvidenceBuilding, models.ChargebackStatusSubmitted},
		{models.ChargebackStatusSubmitted, models.ChargebackStatusWon},
		{models.ChargebackStatusSubmitted, models.ChargebackStatusLost},
	}
	for _, pair := range valid {
		if err := models.ValidateChargebackTransition(pair[0], pair[1]); err != nil {
			t.Fatalf("%s -> %s should be allowed: %v", pair[0], pair[1], err)
		}
	}

	invalid := [][2]string{
		{models.ChargebackStatusReceived, models.ChargebackStatusSubmitted},
		{models.ChargebackStatusWon, models.ChargebackStatusLost},
		{models.ChargebackStatusLost, models.ChargebackStatusReceived},
		{models.ChargebackStatusSubmitted, models.ChargebackStatusReceived},
	}
	for _, pair := range invalid {
		if err := models.ValidateChargebackTransition(pair[0], pair[1]); err == nil {
			t.Fatalf("%s -> %s should be rejected", pair[0], pair[1])
		}
	}

	if err := models.ValidateChargebackTransition("bogus", models.ChargebackStatusWon); err == nil {
		t.Fatal("unknown source status should be rejected")
	}
}
