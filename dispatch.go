package lblcrop

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Progress is notified once per completed job. *progressbar.ProgressBar implements it.
type Progress interface {
	Add(num int) error
}

// Dispatcher runs jobs on a bounded pool of workers.
type Dispatcher struct {
	workers   int
	cropper   *Cropper
	progress  Progress // May be nil.
	completed atomic.Int64
}

// NewDispatcher returns a Dispatcher that runs cropper on cfg.Workers goroutines. A nil
// progress logs a line every 10 jobs instead.
func NewDispatcher(cfg Config, cropper *Cropper, progress Progress) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{workers: workers, cropper: cropper, progress: progress}
}

// Completed returns the number of jobs completed so far by the current or last Run.
func (d *Dispatcher) Completed() int {
	return int(d.completed.Load())
}

// Run processes all jobs and returns the aggregated report once every job has completed.
// A failing job never stops the others.
func (d *Dispatcher) Run(jobs []RetainedJob) *Report {
	d.completed.Store(0)
	report := newReport()
	if len(jobs) == 0 {
		report.finalize()
		return report
	}

	// Limit the number of goroutines in flight, as they hold decoded images in memory.
	numWorkers := min(d.workers, len(jobs))
	log.Debugf("Dispatching %d jobs to %d workers", len(jobs), numWorkers)

	workQueue := make(chan *RetainedJob, 2*numWorkers)
	done := make(chan struct{}, 2*numWorkers)

	// Every worker accumulates into its own report; they are merged at the end.
	shards := make([]*Report, numWorkers)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := range shards {
		shard := newReport()
		shards[i] = shard
		go func() {
			defer wg.Done()
			for job := range workQueue {
				shard.add(d.process(job))
				done <- struct{}{}
			}
		}()
	}

	// Track progress from a single goroutine.
	var wgProgress sync.WaitGroup
	wgProgress.Add(1)
	go func() {
		defer wgProgress.Done()
		for range done {
			n := d.completed.Add(1)
			if d.progress != nil {
				_ = d.progress.Add(1)
			} else if n%10 == 0 || int(n) == len(jobs) {
				log.Infof("Processed image %d of %d", n, len(jobs))
			}
		}
	}()

	// Feed the work queue.
	for i := range jobs {
		workQueue <- &jobs[i]
	}
	close(workQueue)

	wg.Wait()
	close(done)
	wgProgress.Wait()

	for _, s := range shards {
		report.merge(s)
	}
	report.finalize()
	return report
}

// process runs the cropper on one job. A panic while processing fails all boxes of the job.
func (d *Dispatcher) process(job *RetainedJob) (outcomes []CropOutcome) {
	defer func() {
		if e := recover(); e != nil {
			err := errors.Errorf("processing %q panicked: %v", job.ImagePath, e)
			log.WithField("image", job.ImagePath).Error(err)
			outcomes = make([]CropOutcome, len(job.Boxes))
			for i, rb := range job.Boxes {
				outcomes[i] = CropOutcome{
					ImagePath:   job.ImagePath,
					Index:       rb.Index,
					Box:         rb.Box,
					AspectRatio: rb.AspectRatio,
					Err:         err,
				}
			}
		}
	}()

	return d.cropper.Process(*job)
}
