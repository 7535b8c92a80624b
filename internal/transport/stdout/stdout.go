// Package stdout is a console transport: replies are printed, and (optionally)
// each stdin line is delivered as a chat message from a fixed local user.
package stdout

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	kit "hadroid/internal/transport"
)

// User identifies the local operator for console input.
type User struct {
	ID       int64
	Username string
	Name     string
}

type Adapter struct {
	mu  sync.Mutex
	out io.Writer
	in  io.Reader

	user User
	room kit.ChatTarget
	seq  int
}

// New returns a console adapter. in may be nil for send-only use (one-shot commands).
func New(out io.Writer, in io.Reader, user User, room kit.ChatTarget) *Adapter {
	return &Adapter{out: out, in: in, user: user, room: room}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if a.in == nil {
		return nil
	}
	go func() {
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			a.mu.Lock()
			a.seq++
			id := a.seq
			a.mu.Unlock()
			up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
				ID:           id,
				ChatID:       a.room.ChatID,
				ThreadID:     a.room.ThreadID,
				FromID:       a.user.ID,
				FromUsername: a.user.Username,
				FromName:     a.user.Name,
				Text:         line,
				SentAt:       time.Now().UTC(),
			}}
			select {
			case <-ctx.Done():
				return
			case out <- up:
			}
		}
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error { return nil }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	var err error
	if opt != nil && opt.Preformatted {
		_, err = fmt.Fprintf(a.out, "```text\n%s\n```\n", text)
	} else {
		_, err = fmt.Fprintln(a.out, text)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.seq}, err
}
