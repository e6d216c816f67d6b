package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Name() string                  { return j.JobName }
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// CronScheduler runs jobs on standard five-field cron specs. A job that is
// still running when its next tick fires is skipped for that tick.
type CronScheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	log     *slog.Logger
}

func NewCronScheduler(log *slog.Logger) *CronScheduler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
		ctx:     context.Background(),
		log:     log,
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	log := c.log.With(slog.String("job", job.Name()), slog.String("spec", spec))
	entryID, err := c.cron.AddFunc(spec, c.wrap(job, log))
	if err != nil {
		log.Error("schedule job failed", slog.Any("err", err))
		return err
	}
	c.entries[job.Name()] = entryID
	log.Info("job scheduled")
	return nil
}

// Next reports when a scheduled job fires next.
func (c *CronScheduler) Next(name string) (time.Time, bool) {
	id, ok := c.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return c.cron.Entry(id).Next, true
}

// Start runs the scheduler in the background. Jobs receive ctx.
func (c *CronScheduler) Start(ctx context.Context) {
	if ctx != nil {
		c.ctx = ctx
	}
	c.cron.Start()
}

// Stop waits for running jobs to finish.
func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronScheduler) wrap(job Job, log *slog.Logger) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			log.Info("job skipped: still running")
			return
		}
		defer running.Store(false)

		start := time.Now()
		log.Info("job started")
		err := job.Run(c.ctx)
		elapsed := time.Since(start)
		if err != nil {
			log.Error("job finished", slog.Any("err", err), slog.Duration("duration", elapsed))
			return
		}
		log.Info("job finished", slog.Duration("duration", elapsed))
	}
}
