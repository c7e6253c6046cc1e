package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	cron "github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

var ErrUnknownTask = errors.New("unknown task")

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type CronJob interface {
	Schedule() string
	Job
}

// TaskExecutor runs cron jobs. A job never overlaps with itself: a tick that
// finds the previous run still going is skipped.
type TaskExecutor struct {
	cron        *cron.Cron
	cronJobs    map[string]CronJob
	runningJobs mapset.Set[string]
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewTaskExecutor(cronJobs ...CronJob) *TaskExecutor {
	ctx, cancel := context.WithCancel(context.Background())

	jobs := make(map[string]CronJob, len(cronJobs))
	for _, job := range cronJobs {
		jobs[job.Name()] = job
	}

	return &TaskExecutor{
		cron:        cron.New(),
		cronJobs:    jobs,
		runningJobs: mapset.NewSet[string](),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run schedules the jobs and starts the cron in its own goroutine.
func (t *TaskExecutor) Run() error {
	for _, job := range t.cronJobs {
		job := job
		err := t.cron.AddFunc(job.Schedule(), func() {
			if _, err := t.execute(job); err != nil {
				logrus.Errorf("task %s failed: %v", job.Name(), err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule task %s (%s): %w", job.Name(), job.Schedule(), err)
		}
		logrus.Infof("scheduled task %s %s", job.Name(), job.Schedule())
	}

	t.cron.Start()

	return nil
}

// Trigger runs the named job now, in the calling goroutine.
// It reports false when the job is already running.
func (t *TaskExecutor) Trigger(name string) (bool, error) {
	job, ok := t.cronJobs[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return t.execute(job)
}

// Names returns the names of the scheduled jobs.
func (t *TaskExecutor) Names() []string {
	names := make([]string, 0, len(t.cronJobs))
	for name := range t.cronJobs {
		names = append(names, name)
	}
	return names
}

func (t *TaskExecutor) execute(job Job) (bool, error) {
	t.mu.Lock()
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		return false, t.ctx.Err()
	}
	if t.runningJobs.Contains(job.Name()) {
		t.mu.Unlock()
		logrus.Warnf("task %s is already running", job.Name())
		return false, nil
	}
	t.runningJobs.Add(job.Name())
	t.wg.Add(1)
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.runningJobs.Remove(job.Name())
		t.wg.Done()
	}()

	return true, job.Run(t.ctx)
}

// Stop stops scheduling, cancels the running jobs and waits for them to return.
func (t *TaskExecutor) Stop() {
	logrus.Infof("stopping all tasks")
	t.cron.Stop()

	t.mu.Lock()
	t.cancel()
	t.mu.Unlock()

	t.wg.Wait()
}
