package goimpfit

import (
	"context"
	"sync"
)

type trialJob struct {
	index  int
	start  []float64 // internal coordinates
	accept float64   // uniform draw for the Metropolis test
}

type trialResult struct {
	index  int
	result localResult
	err    error
}

// runTrialPool runs one local optimization per job on a fixed number of
// workers. Results come back in job order whatever the scheduling was.
// Jobs not yet started when ctx is done are reported with ctx.Err().
func (s *Solver) runTrialPool(ctx context.Context, ps *paramSpace, batch []trialJob, workers int) []trialResult {
	if workers < 1 {
		workers = 1
	}
	if workers > len(batch) {
		workers = len(batch)
	}
	jobs := make(chan trialJob, len(batch))
	results := make(chan trialResult, len(batch))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- trialResult{index: j.index, err: err}
					continue
				}
				res, err := s.local(ps, j.start)
				results <- trialResult{index: j.index, result: res, err: err}
			}
		}()
	}

	for _, j := range batch {
		jobs <- j
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	first := batch[0].index
	out := make([]trialResult, len(batch))
	for r := range results {
		out[r.index-first] = r
	}
	return out
}
