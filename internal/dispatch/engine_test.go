package dispatch_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/dispatcher/internal/dispatch"
	"github.com/angeloszaimis/dispatcher/internal/ledger"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
)

var _ = Describe("Engine", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		clock   *fakeClock
		sleeper *recordingSleeper
		engine  *dispatch.Engine
	)

	newEngine := func(backends []backend.Backend, cfg dispatch.Config, opts ...dispatch.Option) *dispatch.Engine {
		opts = append([]dispatch.Option{
			dispatch.WithClock(clock.Now),
			dispatch.WithSleeper(sleeper.Sleep),
		}, opts...)
		e, err := dispatch.New(backends, cfg, opts...)
		Expect(err).NotTo(HaveOccurred())
		e.Start(ctx)
		return e
	}

	send := func(id string) (dispatch.Outcome, error) {
		return engine.Send(ctx, dispatch.Message{ID: id, To: "someone@example.com"})
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		clock = newFakeClock()
		sleeper = &recordingSleeper{}
	})

	AfterEach(func() {
		if engine != nil {
			Expect(engine.Close()).To(Succeed())
			engine = nil
		}
		cancel()
	})

	Describe("New", func() {
		It("should require at least one backend", func() {
			_, err := dispatch.New(nil, dispatch.Config{})
			Expect(err).To(HaveOccurred())
		})

		It("should reject duplicate backend names", func() {
			_, err := dispatch.New([]backend.Backend{
				backend.AlwaysSucceed("same"),
				backend.AlwaysSucceed("same"),
			}, dispatch.Config{})
			Expect(err).To(MatchError(ContainSubstring("duplicate backend name")))
		})

		It("should reject negative limits", func() {
			_, err := dispatch.New([]backend.Backend{backend.AlwaysSucceed("ok")}, dispatch.Config{MaxRetries: -1})
			Expect(err).To(MatchError(ContainSubstring("invalid config")))
		})

		It("should start every breaker closed", func() {
			engine = newEngine([]backend.Backend{backend.AlwaysSucceed("a"), backend.AlwaysSucceed("b")}, dispatch.Config{})
			breakers := engine.Breakers()
			Expect(breakers).To(HaveLen(2))
			Expect(breakers[0].Backend).To(Equal("a"))
			Expect(breakers[0].State).To(Equal(circuitbreaker.StateClosed))
			Expect(engine.BreakerRegistry().Len()).To(Equal(2))
		})
	})

	Describe("Submit", func() {
		BeforeEach(func() {
			engine = newEngine([]backend.Backend{backend.AlwaysSucceed("ok")}, dispatch.Config{})
		})

		It("should reject a message without an ID before queueing", func() {
			pending, err := engine.Submit(dispatch.Message{To: "someone@example.com"})
			Expect(pending).To(BeNil())
			Expect(errors.Is(err, dispatch.ErrInvalidMessage)).To(BeTrue())

			_, ok := engine.GetStatus("")
			Expect(ok).To(BeFalse())
			Expect(engine.Stats().Tracked).To(BeZero())
		})

		It("should return a handle resolved with the outcome", func() {
			pending, err := engine.Submit(dispatch.Message{ID: "m-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(pending.ID()).To(Equal("m-1"))
			Eventually(pending.Done()).Should(BeClosed())

			outcome, err := pending.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Status).To(Equal(ledger.StatusSent))
		})

		It("should let a waiter give up without affecting delivery", func() {
			gate := make(chan struct{})
			ordered := &orderBackend{gate: gate}
			Expect(engine.Close()).To(Succeed())
			engine = newEngine([]backend.Backend{ordered}, dispatch.Config{})

			pending, err := engine.Submit(dispatch.Message{ID: "slow"})
			Expect(err).NotTo(HaveOccurred())

			waitCtx, stop := context.WithCancel(ctx)
			stop()
			_, err = pending.Wait(waitCtx)
			Expect(err).To(MatchError(context.Canceled))

			close(gate)
			outcome, err := pending.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Backend).To(Equal("ordered"))
		})
	})

	Describe("end to end", func() {
		var (
			failing    *backend.Fake
			succeeding *backend.Fake
		)

		BeforeEach(func() {
			failing = backend.AlwaysFail("AlwaysFail", "")
			succeeding = backend.AlwaysSucceed("AlwaysSucceed")
			engine = newEngine([]backend.Backend{failing, succeeding}, dispatch.Config{MaxRetries: 1})
		})

		It("should fail over to the second backend and then report duplicates", func() {
			outcome, err := send("x")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Status).To(Equal(ledger.StatusSent))
			Expect(outcome.Backend).To(Equal("AlwaysSucceed"))
			Expect(outcome.Attempts).To(Equal(1))

			rec, ok := engine.GetStatus("x")
			Expect(ok).To(BeTrue())
			Expect(rec.Status).To(Equal(ledger.StatusSent))
			Expect(*rec.Backend).To(Equal("AlwaysSucceed"))
			Expect(rec.Attempts).To(Equal(1))
			Expect(rec.Error).To(BeNil())

			outcome, err = send("x")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Status).To(Equal(ledger.StatusDuplicate))

			Expect(failing.Calls()).To(Equal(1))
			Expect(succeeding.Calls()).To(Equal(1))

			rec, _ = engine.GetStatus("x")
			Expect(rec.Status).To(Equal(ledger.StatusDuplicate))
			Expect(rec.Attempts).To(BeZero())
			Expect(rec.Backend).To(BeNil())
		})

		It("should not back off when the only attempt succeeds", func() {
			_, err := send("x")
			Expect(err).NotTo(HaveOccurred())
			Expect(sleeper.Delays()).To(BeEmpty())
		})
	})

	Describe("status reads", func() {
		It("should be absent for unknown IDs and stable across reads", func() {
			engine = newEngine([]backend.Backend{backend.AlwaysSucceed("ok")}, dispatch.Config{})
			_, ok := engine.GetStatus("never")
			Expect(ok).To(BeFalse())

			_, err := send("a")
			Expect(err).NotTo(HaveOccurred())

			first, _ := engine.GetStatus("a")
			second, _ := engine.GetStatus("a")
			Expect(second).To(Equal(first))
		})
	})

	Describe("rate limiting", func() {
		BeforeEach(func() {
			engine = newEngine([]backend.Backend{backend.AlwaysSucceed("ok")}, dispatch.Config{RateLimit: 2})
		})

		It("should reject the send past the quota and admit after the window", func() {
			for _, id := range []string{"a", "b"} {
				outcome, err := send(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Status).To(Equal(ledger.StatusSent))
			}

			outcome, err := send("c")
			Expect(err).To(MatchError(dispatch.ErrRateLimited))
			Expect(outcome.Status).To(Equal(ledger.StatusRateLimited))

			rec, ok := engine.GetStatus("c")
			Expect(ok).To(BeTrue())
			Expect(rec.Status).To(Equal(ledger.StatusRateLimited))
			Expect(rec.Attempts).To(BeZero())
			Expect(rec.Backend).To(BeNil())

			clock.Advance(60 * time.Second)

			outcome, err = send("c")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Status).To(Equal(ledger.StatusSent))
		})

		It("should check idempotency before the rate limit", func() {
			_, err := send("a")
			Expect(err).NotTo(HaveOccurred())
			_, err = send("b")
			Expect(err).NotTo(HaveOccurred())

			outcome, err := send("a")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Status).To(Equal(ledger.StatusDuplicate))
			Expect(engine.Stats().WindowUsed).To(Equal(2))
		})
	})

	Describe("failed sends and rate budget", func() {
		It("should not consume budget for failed deliveries", func() {
			engine = newEngine(
				[]backend.Backend{backend.AlwaysFail("down", "")},
				dispatch.Config{RateLimit: 1, MaxRetries: 1, FailureThreshold: 100},
			)

			for _, id := range []string{"a", "b", "c"} {
				_, err := send(id)
				Expect(errors.Is(err, dispatch.ErrRetriesExhausted)).To(BeTrue())
			}
			Expect(engine.Stats().WindowUsed).To(BeZero())
		})
	})

	Describe("exhaustion", func() {
		It("should record the last error and no backend after all retries", func() {
			engine = newEngine(
				[]backend.Backend{
					backend.AlwaysFail("first", "first is down"),
					backend.AlwaysFail("second", "second is down"),
				},
				dispatch.Config{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, FailureThreshold: 100},
			)

			outcome, err := send("x")
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, dispatch.ErrRetriesExhausted)).To(BeTrue())
			Expect(err.Error()).To(Equal("all backends failed after retries: second is down"))

			var exhausted *dispatch.ExhaustedError
			Expect(errors.As(err, &exhausted)).To(BeTrue())
			Expect(exhausted.Attempts).To(Equal(3))
			Expect(exhausted.Last).To(MatchError("second is down"))

			Expect(outcome.Status).To(Equal(ledger.StatusFailed))
			Expect(outcome.Attempts).To(Equal(3))

			rec, ok := engine.GetStatus("x")
			Expect(ok).To(BeTrue())
			Expect(rec.Status).To(Equal(ledger.StatusFailed))
			Expect(rec.Attempts).To(Equal(3))
			Expect(rec.Backend).To(BeNil())
			Expect(*rec.Error).To(Equal("second is down"))
		})

		It("should back off exponentially between attempts", func() {
			engine = newEngine(
				[]backend.Backend{backend.AlwaysFail("down", "")},
				dispatch.Config{MaxRetries: 4, BaseDelay: 500 * time.Millisecond, FailureThreshold: 100},
			)

			_, err := send("x")
			Expect(err).To(HaveOccurred())
			Expect(sleeper.Delays()).To(Equal([]time.Duration{
				500 * time.Millisecond,
				1000 * time.Millisecond,
				2000 * time.Millisecond,
			}))
		})

		It("should keep backing off when every backend is breaker-skipped", func() {
			down := backend.AlwaysFail("down", "down for good")
			engine = newEngine(
				[]backend.Backend{down},
				dispatch.Config{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, FailureThreshold: 1},
			)

			_, err := send("x")
			var exhausted *dispatch.ExhaustedError
			Expect(errors.As(err, &exhausted)).To(BeTrue())
			Expect(exhausted.Last).To(MatchError("down for good"))

			Expect(down.Calls()).To(Equal(1))
			Expect(sleeper.Delays()).To(HaveLen(2))
		})

		It("should report a nil last error when no backend was ever tried", func() {
			down := backend.AlwaysFail("down", "")
			engine = newEngine(
				[]backend.Backend{down},
				dispatch.Config{MaxRetries: 1, FailureThreshold: 1},
			)
			_, err := send("trip")
			Expect(err).To(HaveOccurred())

			_, err = send("skipped")
			var exhausted *dispatch.ExhaustedError
			Expect(errors.As(err, &exhausted)).To(BeTrue())
			Expect(exhausted.Last).To(BeNil())
			Expect(err.Error()).To(Equal("all backends failed after retries"))

			rec, _ := engine.GetStatus("skipped")
			Expect(rec.Error).To(BeNil())
			Expect(down.Calls()).To(Equal(1))
		})
	})

	Describe("retries", func() {
		It("should succeed on a later attempt", func() {
			flaky := backend.FailN("flaky", 2)
			engine = newEngine([]backend.Backend{flaky}, dispatch.Config{MaxRetries: 3, FailureThreshold: 100})

			outcome, err := send("x")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Attempts).To(Equal(3))
			Expect(outcome.Backend).To(Equal("flaky"))
			Expect(sleeper.Delays()).To(HaveLen(2))
		})
	})

	Describe("circuit breaking", func() {
		var (
			primary  *backend.Fake
			fallback *backend.Fake
		)

		BeforeEach(func() {
			primary = backend.AlwaysFail("primary", "")
			fallback = backend.AlwaysSucceed("fallback")
			engine = newEngine(
				[]backend.Backend{primary, fallback},
				dispatch.Config{FailureThreshold: 2, Cooldown: 10 * time.Second, RateLimit: 100},
			)
		})

		It("should skip an open backend until the cooldown passes, then probe once", func() {
			for _, id := range []string{"m1", "m2"} {
				outcome, err := send(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Backend).To(Equal("fallback"))
			}
			Expect(primary.Calls()).To(Equal(2))
			Expect(engine.Breakers()[0].State).To(Equal(circuitbreaker.StateOpen))

			_, err := send("m3")
			Expect(err).NotTo(HaveOccurred())
			Expect(primary.Calls()).To(Equal(2))

			clock.Advance(11 * time.Second)

			_, err = send("m4")
			Expect(err).NotTo(HaveOccurred())
			Expect(primary.Calls()).To(Equal(3))
			Expect(engine.Breakers()[0].State).To(Equal(circuitbreaker.StateOpen))

			_, err = send("m5")
			Expect(err).NotTo(HaveOccurred())
			Expect(primary.Calls()).To(Equal(3))
		})

		It("should close the breaker after a successful probe", func() {
			recovering := backend.FailN("recovering", 2)
			Expect(engine.Close()).To(Succeed())
			engine = newEngine(
				[]backend.Backend{recovering, fallback},
				dispatch.Config{FailureThreshold: 2, Cooldown: 10 * time.Second, RateLimit: 100},
			)

			_, _ = send("m1")
			_, _ = send("m2")
			Expect(engine.Breakers()[0].State).To(Equal(circuitbreaker.StateOpen))

			clock.Advance(11 * time.Second)
			outcome, err := send("m3")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Backend).To(Equal("recovering"))
			Expect(engine.Breakers()[0].State).To(Equal(circuitbreaker.StateClosed))
			Expect(engine.Breakers()[0].Failures).To(BeZero())
		})
	})

	Describe("ordering", func() {
		It("should process messages strictly in submission order", func() {
			ordered := &orderBackend{}
			e, err := dispatch.New([]backend.Backend{ordered}, dispatch.Config{RateLimit: 100},
				dispatch.WithClock(clock.Now), dispatch.WithSleeper(sleeper.Sleep))
			Expect(err).NotTo(HaveOccurred())
			engine = e

			ids := []string{"1", "2", "3", "4", "5", "6"}
			var handles []*dispatch.Pending
			for _, id := range ids {
				p, err := engine.Submit(dispatch.Message{ID: id})
				Expect(err).NotTo(HaveOccurred())
				handles = append(handles, p)
			}
			Expect(engine.Stats().Queued).To(Equal(len(ids)))

			engine.Start(ctx)
			for _, p := range handles {
				_, err := p.Wait(ctx)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(ordered.Seen()).To(Equal(ids))
		})
	})

	Describe("Close", func() {
		It("should drain queued work and then refuse new messages", func() {
			gate := make(chan struct{})
			ordered := &orderBackend{gate: gate}
			engine = newEngine([]backend.Backend{ordered}, dispatch.Config{RateLimit: 100})

			first, err := engine.Submit(dispatch.Message{ID: "a"})
			Expect(err).NotTo(HaveOccurred())
			second, err := engine.Submit(dispatch.Message{ID: "b"})
			Expect(err).NotTo(HaveOccurred())

			closed := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				Expect(engine.Close()).To(Succeed())
				close(closed)
			}()

			Consistently(closed, 50*time.Millisecond).ShouldNot(BeClosed())

			close(gate)
			Eventually(closed).Should(BeClosed())
			Expect(first.Done()).To(BeClosed())
			Expect(second.Done()).To(BeClosed())
			Expect(ordered.Seen()).To(Equal([]string{"a", "b"}))

			_, err = engine.Submit(dispatch.Message{ID: "late"})
			Expect(err).To(MatchError(dispatch.ErrEngineClosed))
		})

		It("should resolve queued work with ErrEngineClosed when never started", func() {
			e, err := dispatch.New([]backend.Backend{backend.AlwaysSucceed("ok")}, dispatch.Config{})
			Expect(err).NotTo(HaveOccurred())

			pending, err := e.Submit(dispatch.Message{ID: "a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Close()).To(Succeed())

			_, err = pending.Wait(ctx)
			Expect(err).To(MatchError(dispatch.ErrEngineClosed))
		})

		It("should stop intake when the start context is cancelled", func() {
			startCtx, stop := context.WithCancel(ctx)
			e, err := dispatch.New([]backend.Backend{backend.AlwaysSucceed("ok")}, dispatch.Config{})
			Expect(err).NotTo(HaveOccurred())
			e.Start(startCtx)
			stop()

			Eventually(func() error {
				_, err := e.Submit(dispatch.Message{ID: "a"})
				return err
			}).Should(MatchError(dispatch.ErrEngineClosed))
			Expect(e.Close()).To(Succeed())
		})
	})

	Describe("metric events", func() {
		It("should publish attempts, sends and the final outcome", func() {
			events := make(chan metrics.MetricEvent, 32)
			engine = newEngine(
				[]backend.Backend{backend.AlwaysFail("a", ""), backend.AlwaysSucceed("b")},
				dispatch.Config{},
				dispatch.WithEvents(events),
			)

			_, err := send("x")
			Expect(err).NotTo(HaveOccurred())

			var types []metrics.EventType
			var outcomes []string
			for len(events) > 0 {
				ev := <-events
				types = append(types, ev.Type)
				if ev.Type == metrics.EventOutcome {
					outcomes = append(outcomes, ev.Outcome)
				}
			}
			Expect(types).To(ContainElements(
				metrics.EventAttempt,
				metrics.EventSendFailed,
				metrics.EventSendSucceeded,
			))
			Expect(outcomes).To(Equal([]string{"sent"}))
		})
	})
})
