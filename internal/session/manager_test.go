package session_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tyana/internal/locale"
	"tyana/internal/session"
)

var _ = Describe("Manager", func() {
	var (
		ctx       context.Context
		store     *fakeStore
		transport *fakeTransport
		notifier  *recordingNotifier
		manager   *session.Manager
		lang      locale.Language
	)

	const user = "user-1"

	newManager := func() *session.Manager {
		return session.NewManager(session.Config{Language: lang}, store, transport, notifier)
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = newFakeStore()
		transport = &fakeTransport{}
		notifier = &recordingNotifier{}
		lang = locale.English
		manager = newManager()
	})

	AfterEach(func() {
		manager.Wait()
	})

	Describe("Initialize", func() {
		It("greets an anonymous user without touching the store", func() {
			manager.Initialize(ctx, "")

			msgs := manager.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Role).To(Equal(session.RoleAssistant))
			Expect(msgs[0].Content).To(Equal(locale.Greeting(locale.English)))
			Expect(manager.Initialized()).To(BeTrue())
			Expect(store.listCalls).To(BeZero())
		})

		It("greets a user with no history in their language", func() {
			lang = locale.Latvian
			manager = newManager()

			manager.Initialize(ctx, user)

			msgs := manager.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Role).To(Equal(session.RoleAssistant))
			Expect(msgs[0].Content).To(Equal(locale.Greeting(locale.Latvian)))
		})

		It("falls back to the greeting when history cannot be loaded", func() {
			store.listErr = errUnavailable

			manager.Initialize(ctx, user)

			msgs := manager.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Content).To(Equal(locale.Greeting(locale.English)))
			Expect(manager.Initialized()).To(BeTrue())
			Expect(notifier.all()).To(BeEmpty())
		})

		It("restores persisted history in order", func() {
			base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
			store.seed(user,
				session.StoredMessage{ID: "1", Role: session.RoleAssistant, Content: "How did you sleep?", CreatedAt: base},
				session.StoredMessage{ID: "2", Role: session.RoleUser, Content: "Badly, 5 hours", CreatedAt: base.Add(time.Minute)},
				session.StoredMessage{ID: "3", Role: session.RoleAssistant, Content: "Let's look at your evening routine.", CreatedAt: base.Add(2 * time.Minute)},
			)

			manager.Initialize(ctx, user)

			msgs := manager.Messages()
			Expect(contents(msgs)).To(Equal([]string{"How did you sleep?", "Badly, 5 hours", "Let's look at your evening routine."}))
			Expect(msgs[1].Role).To(Equal(session.RoleUser))
			for i, id := range []string{"1", "2", "3"} {
				Expect(msgs[i].ID.Committed()).To(BeTrue())
				Expect(msgs[i].ID.String()).To(Equal(id))
			}
		})

		It("loads at most the configured number of rows", func() {
			for i := 0; i < 150; i++ {
				store.seed(user, session.StoredMessage{ID: "x", Role: session.RoleUser, Content: "hi"})
			}

			manager.Initialize(ctx, user)

			Expect(manager.Messages()).To(HaveLen(session.DefaultHistoryLimit))
		})

		It("is a no-op for the same identity and reloads for a new one", func() {
			store.seed("user-2", session.StoredMessage{ID: "9", Role: session.RoleUser, Content: "other"})

			manager.Initialize(ctx, user)
			manager.Initialize(ctx, user)
			Expect(store.listCalls).To(Equal(1))

			manager.Initialize(ctx, "user-2")
			Expect(store.listCalls).To(Equal(2))
			Expect(contents(manager.Messages())).To(Equal([]string{"other"}))
		})
	})

	Describe("SendMessage", func() {
		BeforeEach(func() {
			manager.Initialize(ctx, user)
		})

		It("ignores blank input", func() {
			before := len(manager.Messages())

			manager.SendMessage(ctx, "")
			manager.SendMessage(ctx, "   ")
			manager.SendMessage(ctx, "\n\t")

			Expect(manager.Messages()).To(HaveLen(before))
			Expect(transport.calls()).To(BeZero())
		})

		It("appends the user message before the request resolves and ignores sends while busy", func() {
			transport.started = make(chan struct{})
			transport.release = make(chan struct{})
			transport.chunks = []string{frame("ok"), "data: [DONE]\n\n"}

			done := make(chan struct{})
			go func() {
				defer close(done)
				manager.SendMessage(ctx, "hello")
			}()

			Eventually(transport.started).Should(BeClosed())
			msgs := manager.Messages()
			Expect(msgs[len(msgs)-1].Role).To(Equal(session.RoleUser))
			Expect(msgs[len(msgs)-1].Content).To(Equal("hello"))
			Expect(manager.Loading()).To(BeTrue())

			manager.SendMessage(ctx, "second")
			Expect(manager.Messages()).To(HaveLen(len(msgs)))

			close(transport.release)
			Eventually(done).Should(BeClosed())
			Expect(manager.Loading()).To(BeFalse())
			Expect(transport.calls()).To(Equal(1))
		})

		It("streams fragments into a single assistant message", func() {
			transport.chunks = []string{frame("He"), frame("llo"), "data: [DONE]\n\n"}
			before := manager.Messages()

			manager.SendMessage(ctx, "hi")

			msgs := manager.Messages()
			Expect(msgs).To(HaveLen(len(before) + 2))
			Expect(countRole(msgs, session.RoleAssistant)).To(Equal(countRole(before, session.RoleAssistant) + 1))
			last := msgs[len(msgs)-1]
			Expect(last.Role).To(Equal(session.RoleAssistant))
			Expect(last.Content).To(Equal("Hello"))
			Expect(manager.Loading()).To(BeFalse())
		})

		It("sends the whole conversation as role/content pairs", func() {
			transport.chunks = []string{frame("fine"), "data: [DONE]\n\n"}

			manager.SendMessage(ctx, "how am I doing?")

			Expect(transport.payloads).To(HaveLen(1))
			Expect(transport.payloads[0]).To(Equal([]session.WireMessage{
				{Role: "assistant", Content: locale.Greeting(locale.English)},
				{Role: "user", Content: "how am I doing?"},
			}))
		})

		It("keeps the streaming placeholder last and republishes after every fragment", func() {
			transport.chunks = []string{frame("a"), frame("b"), frame("c"), "data: [DONE]\n\n"}

			var mu sync.Mutex
			var seen []string
			manager.OnChange(func(msgs []session.Message) {
				last := msgs[len(msgs)-1]
				if last.Role == session.RoleAssistant && last.Content != "" && !last.ID.Committed() {
					mu.Lock()
					seen = append(seen, last.Content)
					mu.Unlock()
				}
			})

			manager.SendMessage(ctx, "abc please")

			mu.Lock()
			defer mu.Unlock()
			Expect(seen).To(ContainElements("a", "ab", "abc"))
		})

		It("discards the placeholder when the stream has no content", func() {
			transport.chunks = []string{": ping\n\n", "data: [DONE]\n\n"}
			before := manager.Messages()

			manager.SendMessage(ctx, "hello?")

			msgs := manager.Messages()
			Expect(msgs).To(HaveLen(len(before) + 1))
			Expect(msgs[len(msgs)-1].Role).To(Equal(session.RoleUser))
			Expect(manager.Loading()).To(BeFalse())
		})

		It("assembles identical content when a line is split mid-rune", func() {
			payload := []byte(frame("Сон ") + frame("важен 🙂") + "data: [DONE]\n\n")
			for _, offset := range []int{3, 40, 41, 42, 60, 85, len(payload) - 20} {
				transport.chunks = []string{string(payload[:offset]), string(payload[offset:])}

				manager.SendMessage(ctx, "split")

				msgs := manager.Messages()
				Expect(msgs[len(msgs)-1].Content).To(Equal("Сон важен 🙂"), "offset %d", offset)
			}
		})

		DescribeTable("maps rejected requests to notices",
			func(status int, want locale.Notice) {
				transport.err = &session.StatusError{StatusCode: status, Body: `{"error":"nope"}`}
				before := manager.Messages()

				manager.SendMessage(ctx, "hello")

				msgs := manager.Messages()
				Expect(msgs).To(HaveLen(len(before) + 1))
				Expect(msgs[len(msgs)-1].Role).To(Equal(session.RoleUser))
				Expect(manager.Loading()).To(BeFalse())
				Expect(notifier.all()).To(Equal([]recordedNotice{{notice: want, text: locale.Text(locale.English, want)}}))
			},
			Entry("rate limited", 429, locale.NoticeRateLimited),
			Entry("payment required", 402, locale.NoticePaymentRequired),
			Entry("server error", 500, locale.NoticeRequestFailed),
		)

		It("reports connection failures before the stream starts", func() {
			transport.err = errors.New("dial tcp: connection refused")

			manager.SendMessage(ctx, "hello")

			Expect(notifier.all()).To(HaveLen(1))
			Expect(notifier.all()[0].notice).To(Equal(locale.NoticeConnectionError))
			Expect(manager.Loading()).To(BeFalse())
		})

		It("keeps and persists a partial answer when the stream drops", func() {
			transport.chunks = []string{frame("Try to ")}
			transport.streamErr = errors.New("unexpected EOF")

			manager.SendMessage(ctx, "tips?")
			manager.Wait()

			msgs := manager.Messages()
			Expect(msgs[len(msgs)-1].Content).To(Equal("Try to "))
			Expect(notifier.all()[0].notice).To(Equal(locale.NoticeConnectionError))
			Expect(contents(toMessages(store.stored(user)))).To(Equal([]string{"tips?", "Try to "}))
		})

		It("removes an empty placeholder when the stream drops", func() {
			transport.streamErr = errors.New("unexpected EOF")
			before := manager.Messages()

			manager.SendMessage(ctx, "tips?")

			Expect(manager.Messages()).To(HaveLen(len(before) + 1))
			Expect(manager.Loading()).To(BeFalse())
		})

		It("swaps draft ids for stored ids in place", func() {
			transport.chunks = []string{frame("Sure"), "data: [DONE]\n\n"}

			manager.SendMessage(ctx, "hi")
			manager.Wait()

			msgs := manager.Messages()
			sent, reply := msgs[len(msgs)-2], msgs[len(msgs)-1]
			Expect(sent.Content).To(Equal("hi"))
			Expect(sent.ID.Committed()).To(BeTrue())
			Expect(sent.ID.String()).To(Equal("row-1"))
			Expect(reply.Content).To(Equal("Sure"))
			Expect(reply.ID.String()).To(Equal("row-2"))
			Expect(reply.ID.Local()).NotTo(BeEmpty())
		})

		It("keeps the conversation working when saving fails", func() {
			store.insertErr = errUnavailable
			transport.chunks = []string{frame("Sure"), "data: [DONE]\n\n"}

			manager.SendMessage(ctx, "hi")
			manager.Wait()

			msgs := manager.Messages()
			Expect(msgs[len(msgs)-1].Content).To(Equal("Sure"))
			Expect(msgs[len(msgs)-1].ID.Committed()).To(BeFalse())
			Expect(msgs[len(msgs)-2].ID.Committed()).To(BeFalse())
			Expect(notifier.all()).To(BeEmpty())
		})

		It("does not persist for anonymous users", func() {
			anon := newManager()
			anon.Initialize(ctx, "")
			transport.chunks = []string{frame("Hey"), "data: [DONE]\n\n"}

			anon.SendMessage(ctx, "hi")
			anon.Wait()

			Expect(anon.Messages()).To(HaveLen(3))
			Expect(store.stored("")).To(BeEmpty())
		})
	})

	Describe("ClearChat", func() {
		It("deletes history and leaves only the greeting", func() {
			store.seed(user,
				session.StoredMessage{ID: "1", Role: session.RoleUser, Content: "a"},
				session.StoredMessage{ID: "2", Role: session.RoleAssistant, Content: "b"},
			)
			manager.Initialize(ctx, user)
			transport.chunks = []string{frame("c"), "data: [DONE]\n\n"}
			manager.SendMessage(ctx, "more")

			manager.ClearChat(ctx)

			msgs := manager.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Role).To(Equal(session.RoleAssistant))
			Expect(msgs[0].Content).To(Equal(locale.Greeting(locale.English)))
			manager.Wait()
			Expect(store.stored(user)).To(BeEmpty())
		})

		It("leaves the store empty when cleared during an in-flight reply", func() {
			manager.Initialize(ctx, user)
			body := newGatedReader(frame("partial reply"))
			transport.body = body

			done := make(chan struct{})
			go func() {
				defer close(done)
				manager.SendMessage(ctx, "hello")
			}()

			Eventually(body.sent).Should(BeClosed())
			manager.ClearChat(ctx)
			close(body.release)
			Eventually(done).Should(BeClosed())
			manager.Wait()

			Expect(store.stored(user)).To(BeEmpty())
			Expect(contents(manager.Messages())).To(Equal([]string{locale.Greeting(locale.English)}))

			reloaded := newManager()
			reloaded.Initialize(ctx, user)
			Expect(contents(reloaded.Messages())).To(Equal([]string{locale.Greeting(locale.English)}))
		})

		It("resets even when the delete fails", func() {
			store.seed(user, session.StoredMessage{ID: "1", Role: session.RoleUser, Content: "a"})
			store.deleteErr = errUnavailable
			manager.Initialize(ctx, user)

			manager.ClearChat(ctx)

			Expect(manager.Messages()).To(HaveLen(1))
			Expect(notifier.all()).To(BeEmpty())
		})

		It("greets in the current language", func() {
			manager.Initialize(ctx, "")
			manager.SetLanguage(locale.Russian)

			manager.ClearChat(ctx)

			Expect(contents(manager.Messages())).To(Equal([]string{locale.Greeting(locale.Russian)}))
		})
	})
})

func toMessages(rows []session.StoredMessage) []session.Message {
	out := make([]session.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, session.Message{ID: session.CommittedID(r.ID), Role: r.Role, Content: r.Content})
	}
	return out
}
