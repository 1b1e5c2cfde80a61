package models

import (
	"log"

	"bitbucket.org/sapphirefountains/calsync_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&TargetCalendar{}, &RecordTypeCalendarMap{},
		&SyncLedgerEntry{}, &RecordSnapshot{}, &SyncFailure{},
		&Record{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
