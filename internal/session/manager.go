// Package session manages a single user's coaching chat: it loads and persists the
// transcript, streams assistant replies and keeps the ordered message list the UI renders.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tyana/internal/locale"
	"tyana/internal/sse"
)

const (
	DefaultHistoryLimit = 100
	persistTimeout      = 10 * time.Second
)

// Config is passed explicitly instead of being looked up from ambient state.
type Config struct {
	Language     locale.Language
	HistoryLimit int
	// Timeout bounds a whole exchange, request plus stream. Zero disables it.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Manager owns the message sequence of one chat session. At most one exchange is in
// flight; SendMessage calls made while one is running are ignored.
type Manager struct {
	store     HistoryStore
	transport Transport
	notifier  Notifier
	logger    *slog.Logger
	limit     int
	timeout   time.Duration
	now       func() time.Time
	seq       atomic.Uint64

	mu          sync.Mutex
	lang        locale.Language
	messages    []Message
	loading     bool
	initialized bool
	userID      string
	generation  uint64
	version     uint64
	lastWrite   chan struct{}
	// clears counts ClearChat calls; writes queued under an older count are dropped.
	clears uint64

	pubMu     sync.Mutex
	published uint64
	onChange  func([]Message)

	writes sync.WaitGroup
}

func NewManager(cfg Config, store HistoryStore, transport Transport, notifier Notifier) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if notifier == nil {
		notifier = NotifierFunc(func(locale.Notice, string) {})
	}
	return &Manager{
		store:     store,
		transport: transport,
		notifier:  notifier,
		logger:    logger.With(slog.String("module", "session")),
		limit:     limit,
		timeout:   cfg.Timeout,
		now:       time.Now,
		lang:      cfg.Language,
	}
}

// OnChange registers the observer called with a fresh snapshot after every mutation.
func (m *Manager) OnChange(fn func([]Message)) {
	m.pubMu.Lock()
	m.onChange = fn
	m.pubMu.Unlock()
}

// Messages returns a copy of the current sequence.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func (m *Manager) SetLanguage(lang locale.Language) {
	m.mu.Lock()
	m.lang = lang
	m.mu.Unlock()
}

// Initialize loads the transcript of userID, or shows the greeting for an anonymous user
// or an empty history. Calling it again for the same identity is a no-op; a different
// identity discards the current sequence and loads again. Load failures fall back to the
// greeting.
func (m *Manager) Initialize(ctx context.Context, userID string) {
	m.mu.Lock()
	if m.initialized && m.userID == userID {
		m.mu.Unlock()
		return
	}
	if m.userID != userID {
		m.generation++
	}
	m.userID = userID
	m.initialized = false
	generation := m.generation

	if userID == "" || m.store == nil {
		m.messages = []Message{m.greetingLocked()}
		m.initialized = true
		snap, v := m.commitLocked()
		m.mu.Unlock()
		m.publish(snap, v)
		return
	}
	m.mu.Unlock()

	rows, err := m.store.List(ctx, userID, m.limit)
	if err != nil {
		m.logger.Error("load chat history failed", slog.String("user_id", userID), slog.Any("error", err))
		rows = nil
	}

	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		return
	}
	if len(rows) == 0 {
		m.messages = []Message{m.greetingLocked()}
	} else {
		m.messages = make([]Message, 0, len(rows))
		for _, row := range rows {
			m.messages = append(m.messages, Message{
				ID:        CommittedID(row.ID),
				Role:      row.Role,
				Content:   row.Content,
				CreatedAt: row.CreatedAt,
			})
		}
	}
	m.initialized = true
	snap, v := m.commitLocked()
	m.mu.Unlock()
	m.publish(snap, v)
}

// SendMessage appends text as a user message and streams the assistant reply into a
// placeholder that is the last message while streaming. Blank text, or a call made while
// another exchange is in flight, does nothing. Failures are reported through the Notifier.
func (m *Manager) SendMessage(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	m.mu.Lock()
	if m.loading {
		m.mu.Unlock()
		return
	}
	userMsg := Message{
		ID:        m.draftID(),
		Role:      RoleUser,
		Content:   text,
		CreatedAt: m.now(),
	}
	m.messages = append(m.messages, userMsg)
	m.loading = true
	userID := m.userID
	lang := m.lang
	clears := m.clears
	payload := wireMessages(m.messages)
	snap, v := m.commitLocked()
	m.mu.Unlock()
	m.publish(snap, v)

	defer m.finishExchange()

	m.persist(userID, userMsg, clears)

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	body, err := m.transport.Stream(ctx, payload)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			m.logger.Warn("chat request rejected", slog.Int("status", statusErr.StatusCode), slog.String("body", statusErr.Body))
			m.notify(lang, locale.NoticeForStatus(statusErr.StatusCode))
			return
		}
		m.logger.Error("chat request failed", slog.Any("error", err))
		m.notify(lang, locale.NoticeConnectionError)
		return
	}
	defer body.Close()

	placeholder := Message{
		ID:        m.draftID(),
		Role:      RoleAssistant,
		CreatedAt: m.now(),
	}
	m.mutate(func() {
		m.messages = append(m.messages, placeholder)
	})

	var asm sse.Assembler
	skipped, streamErr := sse.Decode(ctx, body, func(fragment string) {
		content, changed := asm.Add(fragment)
		if !changed {
			return
		}
		m.setContent(placeholder.ID.Local(), content)
	})
	if skipped > 0 {
		m.logger.Warn("malformed stream lines dropped", slog.Int("skipped", skipped))
	}
	if streamErr != nil {
		m.logger.Error("chat stream interrupted", slog.Int("received", asm.Len()), slog.Any("error", streamErr))
		m.notify(lang, locale.NoticeConnectionError)
	}

	if asm.Len() == 0 {
		m.remove(placeholder.ID.Local())
		return
	}
	placeholder.Content = asm.String()
	m.persist(userID, placeholder, clears)
}

// ClearChat deletes the persisted transcript and resets the sequence to a fresh greeting.
// A reply still streaming is not saved. Delete failures are logged only.
func (m *Manager) ClearChat(ctx context.Context) {
	m.mu.Lock()
	m.clears++
	userID := m.userID
	pending := m.lastWrite
	m.mu.Unlock()

	if userID != "" && m.store != nil {
		if pending != nil {
			select {
			case <-pending:
			case <-ctx.Done():
			}
		}
		if err := m.store.DeleteAll(ctx, userID); err != nil {
			m.logger.Error("clear chat history failed", slog.String("user_id", userID), slog.Any("error", err))
		}
	}

	m.mutate(func() {
		m.messages = []Message{m.greetingLocked()}
	})
}

// Wait blocks until every queued history write has finished.
func (m *Manager) Wait() {
	m.writes.Wait()
}

// persist inserts msg in the background and swaps its draft id for the stored one.
// Writes run one after another so the store sees them in conversation order. A message
// from an exchange that started before the last ClearChat is not written.
func (m *Manager) persist(userID string, msg Message, clears uint64) {
	if userID == "" || m.store == nil {
		return
	}

	m.mu.Lock()
	if m.clears != clears {
		m.mu.Unlock()
		return
	}
	prev := m.lastWrite
	done := make(chan struct{})
	m.lastWrite = done
	m.mu.Unlock()

	m.writes.Add(1)
	go func() {
		defer m.writes.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		id, err := m.store.Insert(ctx, userID, msg.Role, msg.Content)
		if err != nil {
			m.logger.Warn("save chat message failed",
				slog.String("user_id", userID),
				slog.String("role", string(msg.Role)),
				slog.Any("error", err),
			)
			return
		}
		m.reconcile(msg.ID.Local(), id)
	}()
}

func (m *Manager) reconcile(localID, serverID string) {
	m.mutate(func() {
		if i := m.indexLocked(localID); i >= 0 {
			m.messages[i].ID = m.messages[i].ID.Commit(serverID)
		}
	})
}

func (m *Manager) setContent(localID, content string) {
	m.mutate(func() {
		if i := m.indexLocked(localID); i >= 0 {
			m.messages[i].Content = content
		}
	})
}

func (m *Manager) remove(localID string) {
	m.mutate(func() {
		if i := m.indexLocked(localID); i >= 0 {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
		}
	})
}

func (m *Manager) finishExchange() {
	m.mutate(func() {
		m.loading = false
	})
}

func (m *Manager) notify(lang locale.Language, notice locale.Notice) {
	m.notifier.Notify(notice, locale.Text(lang, notice))
}

func (m *Manager) mutate(fn func()) {
	m.mu.Lock()
	fn()
	snap, v := m.commitLocked()
	m.mu.Unlock()
	m.publish(snap, v)
}

func (m *Manager) commitLocked() ([]Message, uint64) {
	m.version++
	return m.snapshotLocked(), m.version
}

// publish delivers snapshots in version order and drops any that were overtaken.
func (m *Manager) publish(snap []Message, version uint64) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	if version <= m.published {
		return
	}
	m.published = version
	if m.onChange != nil {
		m.onChange(snap)
	}
}

func (m *Manager) snapshotLocked() []Message {
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *Manager) indexLocked(localID string) int {
	if localID == "" {
		return -1
	}
	for i := range m.messages {
		if m.messages[i].ID.Local() == localID {
			return i
		}
	}
	return -1
}

func (m *Manager) greetingLocked() Message {
	return Message{
		ID:        m.draftID(),
		Role:      RoleAssistant,
		Content:   locale.Greeting(m.lang),
		CreatedAt: m.now(),
	}
}

func (m *Manager) draftID() MessageID {
	return DraftID(fmt.Sprintf("tmp-%d-%d", m.now().UnixNano(), m.seq.Add(1)))
}

func wireMessages(messages []Message) []WireMessage {
	out := make([]WireMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, WireMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}
