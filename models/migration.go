package models

import (
	"log"

	"bitbucket.org/stayshield/disputes_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Property{}, &User{},
		&Integration{}, &IntegrationEntityMapping{},
		&CanonicalReservation{}, &FolioLineItem{},
		&Chargeback{}, &ReservationMatch{}, &CaseTimelineEvent{},
		&EvidenceDocument{},
		&SyncLog{}, &IntegrationSyncError{},
		&OutboundEventRecord{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
