package service

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

func NewScheduler() gocron.Scheduler {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal(err)
	}
	return scheduler
}

// ScheduleBackgroundJobs registers the periodic material poll round and the
// agent liveness check. The scheduler is started by the caller.
func ScheduleBackgroundJobs(
	scheduler gocron.Scheduler,
	updates MaterialUpdateServicer,
	monitor *AgentMonitor,
	pollEvery, checkEvery time.Duration,
) {
	if _, err := scheduler.NewJob(
		gocron.DurationJob(pollEvery),
		gocron.NewTask(func() {
			updates.PollKnownMaterials(context.Background())
		}),
	); err != nil {
		log.Fatal(err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(checkEvery),
		gocron.NewTask(func() {
			monitor.Check(context.Background())
		}),
	); err != nil {
		log.Fatal(err)
	}
}
