package workers

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"remindMeAPI/internal/completion"
	"remindMeAPI/internal/types/alarm"
)

// DueAlarmLister is the slice of the alarm service the poller needs.
type DueAlarmLister interface {
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]*alarm.Alarm, error)
}

// LockSweeper removes expired lock rows. Only the Postgres lock backend
// needs one; Redis expires keys itself.
type LockSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Runner drives the periodic jobs: firing due alarms and sweeping expired
// completion locks. Every due alarm goes through the processor's FireAlarm,
// so a poll that overlaps an externally delivered fire signal is collapsed
// by the same dedup lock.
type Runner struct {
	cron      *cron.Cron
	alarms    DueAlarmLister
	processor *completion.Processor
	sweeper   LockSweeper
}

func NewRunner(alarms DueAlarmLister, processor *completion.Processor, sweeper LockSweeper) *Runner {
	return &Runner{
		cron:      cron.New(),
		alarms:    alarms,
		processor: processor,
		sweeper:   sweeper,
	}
}

func (r *Runner) Start() error {
	if _, err := r.cron.AddFunc("@every 30s", r.fireDueAlarms); err != nil {
		return err
	}
	if r.sweeper != nil {
		if _, err := r.cron.AddFunc("@every 1h", r.sweepLocks); err != nil {
			return err
		}
	}
	r.cron.Start()
	log.Println("Background workers started")
	return nil
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Runner) fireDueAlarms() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	now := time.Now()
	due, err := r.alarms.ListDue(ctx, now, 100)
	if err != nil {
		log.Printf("Failed to list due alarms: %v", err)
		return
	}

	for _, a := range due {
		res, err := r.processor.FireAlarm(ctx, a.OwnerID, a.ID, now)
		if err != nil {
			log.Printf("Failed to fire alarm %s: %v", a.ID, err)
			continue
		}
		if res.Deduplicated {
			continue
		}
		if res.Accepted && res.NextFireAt != nil {
			log.Printf("Fired alarm %s (%s), next at %s", a.ID, a.Label, res.NextFireAt.Format(time.RFC3339))
		}
	}
}

func (r *Runner) sweepLocks() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := r.sweeper.SweepExpired(ctx)
	if err != nil {
		log.Printf("Failed to sweep expired locks: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Swept %d expired completion locks", deleted)
	}
}
