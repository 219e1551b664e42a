package csrf

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSweepSchedule runs the sweep every ten minutes.
const DefaultSweepSchedule = "@every 10m"

// Sweeper runs Manager.Cleanup on a cron schedule, followed by any tasks
// added with AddTask.
type Sweeper struct {
	cron    *cron.Cron
	manager *Manager
	timeout time.Duration
	log     logrus.FieldLogger
	tasks   []func(context.Context)
}

// NewSweeper parses schedule (standard five-field cron or a descriptor such
// as "@every 10m"). An empty schedule uses [DefaultSweepSchedule].
func NewSweeper(manager *Manager, schedule string, log logrus.FieldLogger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Sweeper{
		cron:    cron.New(),
		manager: manager,
		timeout: 30 * time.Second,
		log:     log,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	removed, err := s.manager.Cleanup(ctx)
	switch {
	case err != nil:
		s.log.WithError(err).Warn("csrf: sweep failed")
	case removed > 0:
		s.log.WithField("removed", removed).Debug("csrf: swept expired tokens")
	}

	for _, task := range s.tasks {
		task(ctx)
	}
}

// AddTask runs fn after every sweep. It must be called before Start.
func (s *Sweeper) AddTask(fn func(context.Context)) {
	if fn != nil {
		s.tasks = append(s.tasks, fn)
	}
}

func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts scheduling and returns a context done once a running sweep
// finishes.
func (s *Sweeper) Stop() context.Context { return s.cron.Stop() }
