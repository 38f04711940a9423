// Package dryrun simulates bundle submission without touching a network.
// Outcomes are a pure function of the bundle, so repeated runs agree.
package dryrun

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/pipelink-labs/pipelink-go/internal/execution/backend"
)

type outcomeDecider func(pipelineID, attemptID, program string, index int) float64

type Option func(*Submitter)

// WithFailureRate makes an instruction fail when its deterministic score is at
// or above 1-rate. Zero (the default) never fails.
func WithFailureRate(rate float64) Option {
	return func(s *Submitter) {
		if rate < 0 {
			rate = 0
		}
		if rate > 1 {
			rate = 1
		}
		s.failureRate = rate
	}
}

// WithLatency delays every submission, honouring ctx.
func WithLatency(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.latency = d
		}
	}
}

type Submitter struct {
	failureRate float64
	latency     time.Duration
	decide      outcomeDecider
}

func New(opts ...Option) *Submitter {
	s := &Submitter{decide: deterministicScore}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Submitter) Submit(ctx context.Context, bundle backend.Bundle) (backend.Receipt, error) {
	if strings.TrimSpace(bundle.PipelineID) == "" {
		return backend.Receipt{}, fmt.Errorf("pipeline id is required")
	}
	if strings.TrimSpace(bundle.Owner) == "" {
		return backend.Receipt{}, backend.Reject(backend.CodeInvalidSignature, "fee payer is required", -1)
	}
	if len(bundle.Instructions) == 0 {
		return backend.Receipt{}, fmt.Errorf("bundle has no instructions")
	}

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return backend.Receipt{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return backend.Receipt{}, err
	}

	for i, ins := range bundle.Instructions {
		if strings.TrimSpace(ins.Program) == "" {
			return backend.Receipt{}, backend.Reject(backend.CodeInvalidAccount, "instruction has no program", i)
		}
		if s.failureRate <= 0 {
			continue
		}
		score := s.decide(bundle.PipelineID, bundle.AttemptID, ins.Program, i)
		if score >= 1-s.failureRate {
			return backend.Receipt{}, backend.Reject(backend.CodeProgramFailed, "simulated program failure", i)
		}
	}
	return backend.Receipt{ConfirmationID: confirmationID(bundle)}, nil
}

func confirmationID(bundle backend.Bundle) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%s", bundle.PipelineID, bundle.AttemptID, bundle.Owner)
	for _, ins := range bundle.Instructions {
		fmt.Fprintf(h, ":%s:%d:", ins.Program, len(ins.Data))
		h.Write(ins.Data)
	}
	return base58.Encode(h.Sum(nil))
}

func deterministicScore(pipelineID, attemptID, program string, index int) float64 {
	seed := fmt.Sprintf("%s:%s:%s:%d", pipelineID, attemptID, program, index)
	sum := sha256.Sum256([]byte(seed))
	value := binary.BigEndian.Uint64(sum[:8])
	return float64(value) / float64(math.MaxUint64)
}
