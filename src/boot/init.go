package boot

import (
	"etix/src/common"
	"etix/src/db"
	"etix/src/lib"
	"etix/src/models"
	"log"
	"time"

	"gorm.io/gorm"
)

func InitDb() *gorm.DB {
	db := db.GetDb()

	err := db.AutoMigrate(
		&models.User{},
		&models.Event{},
		&models.Ticket{},
		&models.Registration{},
		&models.RegistrationItem{},
		&models.PaymentTransaction{},
		&models.RegistrationLock{},
		&models.WebhookSettings{},
	)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	return db
}

func InitBroker() {
	go lib.KafkaCreateTopics("registration-status")
}

// InitScheduler starts the hygiene sweeps. Neither sweep is load-bearing:
// locks expire by timestamp and sessions by ExpiresAt regardless.
func InitScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return
	}
	if _, err := lib.CreateCronJob(common.PurgeExpiredLocks, time.Minute); err != nil {
		log.Printf("Error scheduling lock purge: %s\n", err.Error())
	}
	staleAge := 24 * time.Hour
	if _, err := lib.CreateCronJob(common.ExpireStalePendingRegistrations, time.Hour, staleAge); err != nil {
		log.Printf("Error scheduling stale registration sweep: %s\n", err.Error())
	}
	jobsWaitingInQueue := len(sched.Jobs())
	log.Println("Jobs in queue:", jobsWaitingInQueue)
	sched.Start()
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	err = sched.Shutdown()
	if err != nil {
		log.Println("An error has occurred while shutting stopping Scheduler. Check logs for info")
		return
	}
}
