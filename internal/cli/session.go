package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"tyana/internal/client"
	"tyana/internal/locale"
	"tyana/internal/session"
	"tyana/internal/store/bolt"
)

// chatSession wires a session manager to the configured history store and transport.
type chatSession struct {
	manager *session.Manager
	userID  string
	close   func() error
}

func openSession(ctx context.Context, v *viper.Viper, errOut io.Writer) (*chatSession, error) {
	opts := []client.Option{}
	if token := strings.TrimSpace(v.GetString("token")); token != "" {
		opts = append(opts, client.WithToken(token))
	}
	api := client.New(v.GetString("server"), opts...)

	var (
		store  session.HistoryStore
		userID string
		closer = func() error { return nil }
	)
	switch {
	case v.GetString("local") != "":
		db, err := bolt.Open(v.GetString("local"))
		if err != nil {
			return nil, err
		}
		store, userID, closer = db, v.GetString("user"), db.Close
	case v.GetString("token") != "":
		me, err := api.Me(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve current user failed: %w", err)
		}
		store, userID = client.NewHistoryClient(api), strconv.FormatUint(uint64(me.ID), 10)
	}

	lang := locale.ParseLanguage(v.GetString("lang"))
	notifier := session.NotifierFunc(func(_ locale.Notice, text string) {
		printf(errOut, "! %s\n", text)
	})
	manager := session.NewManager(session.Config{
		Language:     lang,
		HistoryLimit: session.DefaultHistoryLimit,
		Timeout:      v.GetDuration("timeout"),
		Logger:       newLogger(v, errOut),
	}, store, client.NewCompletionClient(api), notifier)

	manager.Initialize(ctx, userID)
	return &chatSession{manager: manager, userID: userID, close: closer}, nil
}

func (s *chatSession) Close() error {
	s.manager.Wait()
	return s.close()
}

// streamPrinter writes assistant text as it grows. It only follows messages at or after
// the index armed before an exchange.
type streamPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	from  int
	local string
	shown int
}

func (p *streamPrinter) arm(from int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.from, p.local, p.shown = from, "", 0
}

func (p *streamPrinter) render(msgs []session.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(msgs) <= p.from {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != session.RoleAssistant {
		return
	}
	if last.ID.Local() != p.local {
		p.local, p.shown = last.ID.Local(), 0
	}
	if len(last.Content) > p.shown {
		printf(p.w, "%s", last.Content[p.shown:])
		p.shown = len(last.Content)
	}
}

func (p *streamPrinter) printed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown > 0
}

// exchange sends text and prints the streamed reply.
func (s *chatSession) exchange(ctx context.Context, out io.Writer, text string) {
	printer := &streamPrinter{w: out}
	printer.arm(len(s.manager.Messages()))
	s.manager.OnChange(printer.render)
	defer s.manager.OnChange(nil)

	s.manager.SendMessage(ctx, text)
	if printer.printed() {
		printf(out, "\n")
	}
}

func printTranscript(w io.Writer, msgs []session.Message) {
	for _, m := range msgs {
		who := "you"
		if m.Role == session.RoleAssistant {
			who = "tyana"
		}
		printf(w, "%s> %s\n", who, m.Content)
	}
}
