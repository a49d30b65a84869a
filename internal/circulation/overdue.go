package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultOverdueSchedule runs the sweep at the top of every hour.
const DefaultOverdueSchedule = "@hourly"

// OverdueJob runs SweepOverdue on a cron schedule.
type OverdueJob struct {
	svc  *Service
	cron *cron.Cron
}

func NewOverdueJob(svc *Service, schedule string) (*OverdueJob, error) {
	if schedule == "" {
		schedule = DefaultOverdueSchedule
	}
	c := cron.New(cron.WithLocation(time.UTC))
	j := &OverdueJob{svc: svc, cron: c}
	if _, err := c.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("invalid overdue schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *OverdueJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := j.svc.SweepOverdue(ctx); err != nil {
		j.svc.log.WithError(err).Error("overdue sweep failed")
	}
}

// Start runs one sweep right away (catching up after downtime), then follows the schedule.
func (j *OverdueJob) Start() {
	j.run()
	j.cron.Start()
}

// Stop waits for a running sweep to finish.
func (j *OverdueJob) Stop() {
	<-j.cron.Stop().Done()
}
