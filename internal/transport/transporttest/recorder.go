// Package transporttest provides an in-memory Sender for tests.
package transporttest

import (
	"context"
	"strings"
	"sync"

	kit "hadroid/internal/transport"
)

type Sent struct {
	To           kit.ChatTarget
	Text         string
	Preformatted bool
}

// Recorder records every SendText call.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	Err  error // returned by SendText when set
}

func (r *Recorder) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return kit.MessageRef{}, r.Err
	}
	r.sent = append(r.sent, Sent{To: to, Text: text, Preformatted: opt != nil && opt.Preformatted})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(r.sent)}, nil
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Texts returns the text of every message, in order.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, s := range r.sent {
		out[i] = s.Text
	}
	return out
}

// Last returns the most recent message text, or "".
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1].Text
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}

// Joined is every text joined by newlines; handy for Contains checks.
func (r *Recorder) Joined() string { return strings.Join(r.Texts(), "\n") }
