package goimpfit

import (
	"context"
	"errors"
	"math"
	"math/rand"
)

// relative objective decrease that counts as progress for Patience
const improvementTol = 1e-9

type hopOutcome struct {
	best     localResult
	trials   int
	accepted int
}

// trialRand returns the generator for one basin-hopping trial. It depends
// only on the seed and the trial index, never on which worker runs it.
func trialRand(seed int64, trial int) *rand.Rand {
	z := uint64(seed) + uint64(trial+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return rand.New(rand.NewSource(int64(z)))
}

// basinHop runs the global search. Trials are generated in rounds of
// BatchSize from the round's incumbent, optimized on Workers goroutines and
// reduced in trial order.
func (s *Solver) basinHop(ctx context.Context, ps *paramSpace, u0 []float64) (hopOutcome, error) {
	log := s.cfg.logger().With("method", string(s.cfg.Method), "circuit", s.circuit.Topology())

	budget := s.cfg.TrialBudget
	if budget < 0 {
		budget = 0
	}
	batchSize := s.cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	step := s.cfg.StepSize
	if step <= 0 {
		step = DefaultFitConfig().StepSize
	}

	var (
		out       hopOutcome
		cur       localResult
		haveCur   bool
		lastErr   error
		sinceBest int
		stop      bool
	)

	res, err := s.local(ps, u0)
	if err == nil && !res.converged {
		err = errIterationLimit
	}
	if err != nil {
		lastErr = &ConvergenceError{Method: s.cfg.Method, Trial: -1, Err: err}
		log.Warn("initial local fit failed", "error", err)
	} else {
		cur, haveCur = res, true
		out.best = res
		log.Debug("initial local fit", "objective", res.f)
	}

	for next := 0; next < budget && !stop; {
		if err := ctx.Err(); err != nil {
			if !haveCur {
				return out, err
			}
			log.Info("basin-hopping interrupted", "trials", out.trials, "error", err)
			break
		}

		n := batchSize
		if next+n > budget {
			n = budget - next
		}
		start := u0
		if haveCur {
			start = cur.u
		}
		batch := make([]trialJob, n)
		for k := range batch {
			rng := trialRand(s.cfg.Seed, next+k)
			u := make([]float64, len(start))
			for i, v := range start {
				u[i] = v + step*(2*rng.Float64()-1)
			}
			batch[k] = trialJob{index: next + k, start: u, accept: rng.Float64()}
		}
		next += n

		for i, r := range s.runTrialPool(ctx, ps, batch, s.cfg.Workers) {
			if r.err != nil && ctx.Err() != nil && errors.Is(r.err, ctx.Err()) {
				stop = true
				break
			}
			out.trials++
			if r.err == nil && !r.result.converged {
				r.err = errIterationLimit
			}
			if r.err != nil {
				lastErr = &ConvergenceError{Method: s.cfg.Method, Trial: r.index, Err: r.err}
				log.Debug("trial failed", "trial", r.index, "error", r.err)
				sinceBest++
			} else {
				if !haveCur || s.metropolis(r.result.f, cur.f, batch[i].accept) {
					cur, haveCur = r.result, true
					out.accepted++
				}
				switch {
				case out.best.x == nil || r.result.f < out.best.f*(1-improvementTol):
					out.best = r.result
					sinceBest = 0
					log.Debug("new best", "trial", r.index, "objective", r.result.f)
				case r.result.f < out.best.f:
					out.best = r.result
					sinceBest++
				default:
					sinceBest++
				}
			}
			if s.cfg.Patience > 0 && sinceBest >= s.cfg.Patience {
				log.Debug("no improvement, stopping", "trials", out.trials, "patience", s.cfg.Patience)
				stop = true
				break
			}
		}
	}

	if out.best.x == nil {
		if lastErr == nil {
			lastErr = &ConvergenceError{Method: s.cfg.Method, Trial: -1, Err: errors.New("no trial produced a result")}
		}
		return out, lastErr
	}
	log.Info("basin-hopping finished", "trials", out.trials, "accepted", out.accepted, "objective", out.best.f)
	return out, nil
}

// metropolis accepts an improvement outright and a worse candidate with
// probability exp(-(fNew-fCur)/T).
func (s *Solver) metropolis(fNew, fCur, draw float64) bool {
	if fNew < fCur {
		return true
	}
	t := s.cfg.Temperature
	if t <= 0 {
		return false
	}
	return draw < math.Exp(-(fNew-fCur)/t)
}
