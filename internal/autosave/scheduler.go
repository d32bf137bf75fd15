/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package autosave schedules snapshot flushes: a fixed timer plus change
// notifications coalesce into single-flight flushes, and lifecycle signals
// (visibility loss, teardown) trigger immediate best-effort flushes. It knows
// nothing about the entity schema, only how to persist and how to tell
// whether anything changed.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	applog "genstudio/internal/log"
)

// State of the scheduler, for introspection and tests.
type State int32

const (
	StateIdle State = iota
	StateScheduled
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Flusher is the slice of the snapshot store the scheduler needs.
type Flusher interface {
	// Persist writes the working copy to the durable slot.
	Persist(ctx context.Context) error
	// Changes is a monotonic mutation counter used for the change-tracked
	// skip: an untouched store is not flushed again.
	Changes() int64
}

// Scheduler drives periodic and event-driven flushes with at most one flush
// in flight. A trigger arriving mid-flight is dropped; the next tick catches
// any mutation it would have covered, so the durable snapshot lags the
// working copy by at most one interval.
type Scheduler struct {
	store        Flusher
	interval     time.Duration
	flushTimeout time.Duration
	log          *slog.Logger

	notify chan struct{}
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	state       atomic.Int32
	inFlight    atomic.Bool
	lastFlushed atomic.Int64
}

// New builds a scheduler flushing every interval. Start must be called before
// the scheduler does anything.
func New(store Flusher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s := &Scheduler{
		store:        store,
		interval:     interval,
		flushTimeout: 30 * time.Second,
		log:          applog.WithComponent("autosave"),
		notify:       make(chan struct{}, 1),
		closed:       make(chan struct{}),
	}
	s.lastFlushed.Store(store.Changes())
	return s
}

// Start launches the background loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// State reports the current scheduler state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Notify requests a flush after a mutation. Bursts coalesce into one pending
// trigger; notifications during a flush are dropped.
func (s *Scheduler) Notify() {
	if State(s.state.Load()) == StateFlushing {
		return
	}
	s.state.CompareAndSwap(int32(StateIdle), int32(StateScheduled))
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// FlushNow performs an immediate best-effort flush, bypassing the timer. Used
// on loss of foreground visibility and at process teardown.
func (s *Scheduler) FlushNow(ctx context.Context, reason string) {
	s.flush(ctx, reason)
}

// Close cancels the timer, lets an in-flight flush finish rather than
// aborting it, and runs one final teardown flush.
func (s *Scheduler) Close(ctx context.Context) {
	s.once.Do(func() { close(s.closed) })
	s.wg.Wait()
	s.flush(ctx, "teardown")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.flushWithTimeout("tick")
		case <-s.notify:
			s.flushWithTimeout("change")
		}
	}
}

func (s *Scheduler) flushWithTimeout(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
	defer cancel()
	s.flush(ctx, reason)
}

// flush is the single-flight worker. Failures are logged, never retried
// immediately, so a failing slot is not hot-looped against.
func (s *Scheduler) flush(ctx context.Context, reason string) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Debug("flush already in flight, trigger dropped", slog.String("reason", reason))
		return
	}
	defer s.inFlight.Store(false)

	s.state.Store(int32(StateFlushing))
	defer s.state.Store(int32(StateIdle))

	changes := s.store.Changes()
	if changes == s.lastFlushed.Load() {
		s.log.Debug("store unchanged, flush skipped", slog.String("reason", reason))
		return
	}
	if err := s.store.Persist(ctx); err != nil {
		s.log.Warn("flush failed, working copy stays authoritative",
			slog.String("reason", reason), slog.Any("err", err))
		return
	}
	s.lastFlushed.Store(changes)
	s.log.Debug("flushed", slog.String("reason", reason), slog.Int64("changes", changes))
}
