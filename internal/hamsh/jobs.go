package hamsh

import (
	"context"
	"sync"
	"time"
)

// JobState is the lifecycle state of a background job.
type JobState int

const (
	JobRunning JobState = iota
	JobDone
)

func (s JobState) String() string {
	if s == JobDone {
		return "done"
	}
	return "running"
}

// Job is a background pipeline.
type Job struct {
	ID      int
	Line    string
	Started time.Time

	mu       sync.Mutex
	state    JobState
	exitCode int
	err      error
	done     chan struct{}
}

// State returns the job's current state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Result returns the exit code and error of a finished job.
func (j *Job) Result() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exitCode, j.err
}

// Done is closed when the job's pipeline has exited.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (int, error) {
	select {
	case <-j.done:
		return j.Result()
	case <-ctx.Done():
		return 1, ctx.Err()
	}
}

func (j *Job) finish(code int, err error) {
	j.mu.Lock()
	j.state = JobDone
	j.exitCode = code
	j.err = err
	j.mu.Unlock()
	close(j.done)
}

// JobTable is an append-only arena of jobs. A job's id is its position in
// the arena plus one, so ids start at 1 and never repeat within a session.
type JobTable struct {
	mu   sync.Mutex
	jobs []*Job
	// base counts evicted jobs; jobs[i] has id base+i+1.
	base int
	max  int
}

// NewJobTable creates a table. max > 0 caps how many finished jobs are
// retained; running jobs are never evicted.
func NewJobTable(max int) *JobTable {
	return &JobTable{max: max}
}

// Add registers a new running job.
func (t *JobTable) Add(line string) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictLocked()
	job := &Job{
		ID:      t.base + len(t.jobs) + 1,
		Line:    line,
		Started: time.Now(),
		done:    make(chan struct{}),
	}
	t.jobs = append(t.jobs, job)
	return job
}

// evictLocked drops finished jobs from the front of the arena while the
// table is over its cap.
func (t *JobTable) evictLocked() {
	if t.max <= 0 {
		return
	}
	for len(t.jobs) >= t.max && len(t.jobs) > 0 && t.jobs[0].State() == JobDone {
		t.jobs[0] = nil
		t.jobs = t.jobs[1:]
		t.base++
	}
}

// Get returns job id.
func (t *JobTable) Get(id int) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := id - t.base - 1
	if i < 0 || i >= len(t.jobs) {
		return nil, false
	}
	return t.jobs[i], true
}

// List returns all retained jobs in id order.
func (t *JobTable) List() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Job(nil), t.jobs...)
}
