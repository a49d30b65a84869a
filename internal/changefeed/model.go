// Package changefeed は books / profiles / loans / settings の変更通知を配信する。
//
// 通知は「何かが変わった」ことだけを伝える。バッファが溢れた購読者は取りこぼしを
// 抱えたまま続けられないので切断する。クライアントは再接続して全件を取り直す。
package changefeed

import (
	"context"
	"time"

	"libportal/internal/platform/clock"
	"libportal/internal/platform/ids"
	"libportal/internal/platform/logging"
)

type Table string

const (
	TableBooks    Table = "books"
	TableProfiles Table = "profiles"
	TableLoans    Table = "loans"
	TableSettings Table = "settings"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

type Change struct {
	ID    string    `json:"id"`
	Table Table     `json:"table"`
	Op    Op        `json:"op"`
	Key   string    `json:"key,omitempty"`
	At    time.Time `json:"at"`
}

// Message は WebSocket 上のフレーム。type は change / ping / pong。
type Message struct {
	Type string  `json:"type"`
	Data *Change `json:"data,omitempty"`
}

const (
	MsgChange = "change"
	MsgPing   = "ping"
	MsgPong   = "pong"
)

type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// stamper fills ID and At on changes that do not carry them yet.
type stamper struct {
	ids   ids.IDGen
	clock clock.Clock
}

func newStamper() stamper {
	return stamper{ids: ids.NewULID(), clock: clock.Real{}}
}

func (s stamper) stamp(c Change) (Change, error) {
	if c.ID == "" {
		id, err := s.ids.New()
		if err != nil {
			return c, err
		}
		c.ID = id
	}
	if c.At.IsZero() {
		c.At = s.clock.Now()
	}
	return c, nil
}

// Notifier wraps a Publisher for services. The row is already committed when
// it runs, so a publish failure is logged and never surfaces to the caller.
type Notifier struct {
	pub Publisher
	log *logging.Logger
}

func NewNotifier(pub Publisher, log *logging.Logger) *Notifier {
	if log == nil {
		log = logging.Discard()
	}
	return &Notifier{pub: pub, log: log}
}

func (n *Notifier) Notify(ctx context.Context, table Table, op Op, key string) {
	if n == nil || n.pub == nil {
		return
	}
	if err := n.pub.Publish(ctx, Change{Table: table, Op: op, Key: key}); err != nil {
		n.log.WithContext(ctx).WithError(err).Warn("change publish failed",
			"table", string(table), "op", string(op), "key", key)
	}
}

// NopPublisher discards every change.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Change) error { return nil }
