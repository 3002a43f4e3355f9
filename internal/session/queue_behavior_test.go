package session

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sprite-ai/spritegate/pkg/types"
)

var _ = Describe("admission queue", func() {
	var (
		exec *stubExecutor
		reg  *Registry
		ch   *fakeChannel
		s    *Session
	)

	BeforeEach(func() {
		exec = newStubExecutor()
		reg = NewRegistry(Config{MaxQueueSize: 2, IdleGrace: time.Minute}, exec, nil)
		ch = newFakeChannel(types.ChannelChat)
		s = reg.Attach("user-1", ch)
	})

	AfterEach(func() {
		close(exec.release)
		reg.Shutdown()
	})

	startOf := func() Job {
		var job Job
		Eventually(exec.started).WithTimeout(2 * time.Second).Should(Receive(&job))
		return job
	}

	Describe("admission", func() {
		It("starts the first message immediately", func() {
			res := s.Queue().Submit("m1", "hello")
			Expect(res.Action).To(Equal(ActionQueued))
			Expect(res.Position).To(Equal(1))
			Expect(startOf().MessageID).To(Equal("m1"))
		})

		It("reports 1-based positions behind the in-flight message", func() {
			s.Queue().Submit("m1", "one")
			startOf()
			Expect(s.Queue().Submit("m2", "two").Position).To(Equal(1))
			Expect(s.Queue().Submit("m3", "three").Position).To(Equal(2))
		})

		It("rejects over capacity without blocking or mutating the queue", func() {
			s.Queue().Submit("m1", "one")
			startOf()
			s.Queue().Submit("m2", "two")
			s.Queue().Submit("m3", "three")

			before := s.Queue().Len()
			done := make(chan SubmitResult, 1)
			go func() { done <- s.Queue().Submit("m4", "four") }()

			var res SubmitResult
			Eventually(done).WithTimeout(time.Second).Should(Receive(&res))
			Expect(res.Action).To(Equal(ActionQueueFull))
			Expect(s.Queue().Len()).To(Equal(before))
		})
	})

	Describe("draining", func() {
		It("processes strictly in FIFO order", func() {
			s.Queue().Submit("m1", "one")
			s.Queue().Submit("m2", "two")

			Expect(startOf().MessageID).To(Equal("m1"))
			exec.release <- nil
			Expect(startOf().MessageID).To(Equal("m2"))
			exec.release <- nil

			Eventually(ch.processingOrder).WithTimeout(2 * time.Second).
				Should(Equal([]string{"m1", "m2"}))
		})

		It("keeps at most one message in flight", func() {
			s.Queue().Submit("m1", "one")
			s.Queue().Submit("m2", "two")
			startOf()

			Consistently(exec.started).WithTimeout(100 * time.Millisecond).
				ShouldNot(Receive())
			Expect(s.Queue().Status().CurrentMessageID).To(Equal("m1"))

			exec.release <- nil
			startOf()
			exec.release <- nil
		})
	})

	Describe("cancellation", func() {
		It("removes a queued message and shifts later positions down", func() {
			s.Queue().Submit("m1", "one")
			startOf()
			s.Queue().Submit("m2", "two")
			s.Queue().Submit("m3", "three")

			Expect(s.Queue().Cancel("m2")).To(BeTrue())
			Expect(s.Queue().Len()).To(Equal(1))

			Eventually(func() int {
				pos := 0
				for _, ev := range ch.snapshot() {
					if qe, ok := ev.(types.QueuedEvent); ok && qe.MessageID == "m3" {
						pos = qe.QueuePosition
					}
				}
				return pos
			}).WithTimeout(time.Second).Should(Equal(1))

			exec.release <- nil
			startOf()
			exec.release <- nil
		})

		It("aborts the in-flight message cooperatively", func() {
			s.Queue().Submit("m1", "one")
			startOf()

			Expect(s.Queue().Cancel("m1")).To(BeTrue())

			Eventually(func() bool {
				for _, ev := range ch.snapshot() {
					if ce, ok := ev.(types.CancelledEvent); ok {
						return ce.MessageID == "m1" && ce.Reason == ReasonCancelledDuring
					}
				}
				return false
			}).WithTimeout(2 * time.Second).Should(BeTrue())
		})

		It("moves on to the next message after a cancel", func() {
			s.Queue().Submit("m1", "one")
			startOf()
			s.Queue().Submit("m2", "two")

			s.Queue().Cancel("m1")
			Expect(startOf().MessageID).To(Equal("m2"))
			exec.release <- nil
		})
	})
})
