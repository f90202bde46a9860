package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tyana/internal/locale"
	"tyana/internal/session"
)

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Suite")
}

type fakeStore struct {
	mu        sync.Mutex
	rows      map[string][]session.StoredMessage
	nextID    int
	listCalls int

	listErr   error
	insertErr error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string][]session.StoredMessage{}}
}

func (s *fakeStore) seed(userID string, msgs ...session.StoredMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[userID] = append(s.rows[userID], msgs...)
}

func (s *fakeStore) List(_ context.Context, userID string, limit int) ([]session.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	rows := s.rows[userID]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]session.StoredMessage, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *fakeStore) Insert(_ context.Context, userID string, role session.Role, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return "", s.insertErr
	}
	s.nextID++
	id := fmt.Sprintf("row-%d", s.nextID)
	s.rows[userID] = append(s.rows[userID], session.StoredMessage{ID: id, Role: role, Content: content, CreatedAt: time.Now()})
	return id, nil
}

func (s *fakeStore) DeleteAll(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.rows, userID)
	return nil
}

func (s *fakeStore) stored(userID string) []session.StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]session.StoredMessage, len(s.rows[userID]))
	copy(out, s.rows[userID])
	return out
}

// chunkReader returns its chunks one Read at a time, then err (io.EOF when nil).
type chunkReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkReader) Close() error { return nil }

// gatedReader returns first, then blocks until release is closed and reports EOF.
type gatedReader struct {
	first   []byte
	sent    chan struct{}
	release chan struct{}
}

func newGatedReader(first string) *gatedReader {
	return &gatedReader{first: []byte(first), sent: make(chan struct{}), release: make(chan struct{})}
}

func (r *gatedReader) Read(p []byte) (int, error) {
	if len(r.first) > 0 {
		n := copy(p, r.first)
		r.first = r.first[n:]
		if len(r.first) == 0 {
			close(r.sent)
		}
		return n, nil
	}
	<-r.release
	return 0, io.EOF
}

func (r *gatedReader) Close() error { return nil }

type fakeTransport struct {
	mu       sync.Mutex
	payloads [][]session.WireMessage

	chunks    []string
	streamErr error
	err       error
	body      io.ReadCloser

	started chan struct{}
	release chan struct{}
}

func (t *fakeTransport) Stream(ctx context.Context, messages []session.WireMessage) (io.ReadCloser, error) {
	t.mu.Lock()
	t.payloads = append(t.payloads, messages)
	t.mu.Unlock()

	if t.started != nil {
		close(t.started)
		select {
		case <-t.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.err != nil {
		return nil, t.err
	}
	if t.body != nil {
		return t.body, nil
	}
	r := &chunkReader{err: t.streamErr}
	for _, c := range t.chunks {
		r.chunks = append(r.chunks, []byte(c))
	}
	return r, nil
}

func (t *fakeTransport) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.payloads)
}

type recordedNotice struct {
	notice locale.Notice
	text   string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []recordedNotice
}

func (n *recordingNotifier) Notify(notice locale.Notice, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, recordedNotice{notice: notice, text: text})
}

func (n *recordingNotifier) all() []recordedNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedNotice(nil), n.notices...)
}

func frame(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n\n"
}

func contents(msgs []session.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func countRole(msgs []session.Message, role session.Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}

var errUnavailable = errors.New("store unavailable")
