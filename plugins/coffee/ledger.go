package coffee

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Keep the operation log bounded; balances are authoritative.
const maxOps = 1000

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Op is one balance change: +n for drinks, -n for payments.
type Op struct {
	UID   string    `json:"uid"`
	Delta int       `json:"delta"`
	Time  time.Time `json:"time"`
}

// Ledger is the per-room coffee document.
type Ledger struct {
	Users   map[string]User `json:"users"`
	Balance map[string]int  `json:"balance"`
	Ops     []Op            `json:"ops"`
}

func newLedger() *Ledger {
	return &Ledger{Users: map[string]User{}, Balance: map[string]int{}}
}

func uidOf(id int64) string { return strconv.FormatInt(id, 10) }

// touch registers the user with a zero balance on first sight and refreshes
// the stored handle.
func (l *Ledger) touch(u User) string {
	uid := uidOf(u.ID)
	l.Users[uid] = u
	if _, ok := l.Balance[uid]; !ok {
		l.Balance[uid] = 0
	}
	return uid
}

// apply changes uid's balance and returns the balance before and after.
func (l *Ledger) apply(uid string, delta int, at time.Time) (int, int) {
	prev := l.Balance[uid]
	l.Balance[uid] = prev + delta
	l.Ops = append(l.Ops, Op{UID: uid, Delta: delta, Time: at.UTC()})
	if len(l.Ops) > maxOps {
		l.Ops = append([]Op(nil), l.Ops[len(l.Ops)-maxOps:]...)
	}
	return prev, l.Balance[uid]
}

type standing struct {
	user    User
	balance int
	drunk   int
}

// stats returns users sorted by balance (highest first), then by handle.
func (l *Ledger) stats() []standing {
	drunk := map[string]int{}
	for _, op := range l.Ops {
		if op.Delta > 0 {
			drunk[op.UID] += op.Delta
		}
	}
	out := make([]standing, 0, len(l.Balance))
	for uid, b := range l.Balance {
		out = append(out, standing{user: l.Users[uid], balance: b, drunk: drunk[uid]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].balance != out[j].balance {
			return out[i].balance > out[j].balance
		}
		return handle(out[i].user) < handle(out[j].user)
	})
	return out
}

func handle(u User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.Name != "" {
		return u.Name
	}
	return uidOf(u.ID)
}

func formatStats(rows []standing) string {
	if len(rows) == 0 {
		return "No coffee drunk yet."
	}
	var b strings.Builder
	b.WriteString("Coffee stats:")
	for _, r := range rows {
		fmt.Fprintf(&b, "\n%s: %d (drunk %d)", handle(r.user), r.balance, r.drunk)
	}
	return b.String()
}

// docName returns the ledger document name for a room.
func docName(room string) string {
	r := strings.NewReplacer("/", "_", ":", "_")
	return "coffee_" + r.Replace(room)
}

// update runs load, mutate, save on the room ledger, one update at a time.
func (p *Plugin) update(ctx context.Context, room string, fn func(l *Ledger) error) error {
	p.ledgerMu.Lock()
	defer p.ledgerMu.Unlock()

	l := newLedger()
	name := docName(room)
	if _, err := p.LoadDoc(ctx, name, l); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	if l.Users == nil {
		l.Users = map[string]User{}
	}
	if l.Balance == nil {
		l.Balance = map[string]int{}
	}
	if err := fn(l); err != nil {
		return err
	}
	if err := p.SaveDoc(ctx, name, l); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}
