package engine

import (
	"context"
	"os"
	"strconv"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxInflight bounds concurrently running component bodies when no
// explicit limit is configured.
const DefaultMaxInflight = 1024

// EnvMaxInflight overrides the in-flight component limit.
const EnvMaxInflight = "TIDEMARK_MAX_INFLIGHT_COMPONENTS"

// maxInflightFromEnv resolves the configured limit, falling back to the
// default on absent or malformed values. A limit below 1 is malformed.
func maxInflightFromEnv() int64 {
	raw := os.Getenv(EnvMaxInflight)
	if raw == "" {
		return DefaultMaxInflight
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		return DefaultMaxInflight
	}
	return n
}

// quota is a counting semaphore over component bodies.
//
// CRITICAL PATTERNS:
//
// CP-1: a component holds a permit only while its own body runs. The permit
// is released the moment the body mounts its first child, and re-acquired
// before the body resumes after waiting on a child result. A parent blocked
// on children therefore never starves its descendants, so any limit >= 1 is
// deadlock-free for arbitrarily deep trees.
type quota struct {
	sem *semaphore.Weighted
}

func newQuota(limit int64) *quota {
	if limit < 1 {
		limit = maxInflightFromEnv()
	}
	return &quota{sem: semaphore.NewWeighted(limit)}
}

func (q *quota) acquire(ctx context.Context) error {
	return q.sem.Acquire(ctx, 1)
}

func (q *quota) release() {
	q.sem.Release(1)
}

// permit tracks whether the current component body holds a quota permit.
// Bodies run with held=true; the first child mount flips it to false and
// Handle.Ready/Result re-acquire before returning control to the body.
type permit struct {
	q    *quota
	held bool
}

func (p *permit) yield() {
	if p.held {
		p.held = false
		p.q.release()
	}
}

func (p *permit) reacquire(ctx context.Context) error {
	if p.held {
		return nil
	}
	if err := p.q.acquire(ctx); err != nil {
		return err
	}
	p.held = true
	return nil
}

// dropFinal releases the permit at the end of the body if still held.
func (p *permit) dropFinal() {
	if p.held {
		p.held = false
		p.q.release()
	}
}
