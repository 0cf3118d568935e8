package server

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

// Housekeeping runs a set of jobs once at start, every interval, and once at stop.
type Housekeeping struct {
	jobs     []HousekeepingJob
	interval time.Duration

	mu     sync.Mutex
	ticker *time.Ticker
	quit   chan struct{}
	done   sync.WaitGroup
}

func NewHousekeeping(interval time.Duration, jobs ...HousekeepingJob) *Housekeeping {
	return &Housekeeping{jobs: jobs, interval: interval}
}

// Start starts all housekeeping jobs. Calling it again restarts the ticker.
func (h *Housekeeping) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopTicker()
	h.ticker = time.NewTicker(h.interval)
	h.quit = make(chan struct{})
	ticker, quit := h.ticker, h.quit

	h.done.Add(1)
	go func() {
		defer h.done.Done()

		for _, job := range h.jobs {
			runJob(job, job.First)
		}
		log.Printf("Housekeeping jobs started")

		for {
			select {
			case <-ticker.C:
				for _, job := range h.jobs {
					runJob(job, job.Sometimes)
				}
			case <-quit:
				return
			}
		}
	}()
}

// Stop stops the ticker, waits for a running round to finish, then runs every job's Last.
func (h *Housekeeping) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ticker == nil {
		return
	}
	h.stopTicker()
	h.done.Wait()

	for _, job := range h.jobs {
		runJob(job, job.Last)
	}
	log.Printf("Housekeeping jobs finished")
}

func (h *Housekeeping) stopTicker() {
	if h.ticker != nil {
		h.ticker.Stop()
		close(h.quit)
		h.ticker = nil
	}
}

func runJob(job HousekeepingJob, step func() error) {
	if err := step(); err != nil {
		log.Printf("Housekeeping job %q failed: %v", job.Name(), err)
	}
}
