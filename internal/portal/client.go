// Package portal はサーバ API のクライアントと、一覧をメモリに同期する Syncer。
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"libportal/internal/catalog"
	"libportal/internal/changefeed"
	"libportal/internal/circulation"
	"libportal/internal/members"
	"libportal/internal/platform/apierr"
	"libportal/internal/platform/auth"
)

// Error is a non-2xx response. Branch on Code and Reason, never on Message.
type Error struct {
	Status  int
	Code    apierr.Code
	Reason  apierr.Reason
	Message string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%d %s/%s: %s", e.Status, e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// HasReason reports whether err is a *Error (or a local validation error) carrying r.
func HasReason(err error, r apierr.Reason) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason == r
	}
	return apierr.HasReason(err, r)
}

type Client struct {
	base *url.URL
	http *http.Client

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithToken(tok string) Option          { return func(c *Client) { c.token = tok } }

// NewClient takes the server root (e.g. https://host:8443); /api/v1 is appended.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	u.Path += "/api/v1"
	c := &Client{base: u, http: &http.Client{Timeout: 15 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) SetToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) endpoint(p string, q url.Values) string {
	u := *c.base
	u.Path += p
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, p string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(p, q), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return decodeError(res)
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, p, err)
	}
	return nil
}

func decodeError(res *http.Response) error {
	e := &Error{Status: res.StatusCode}
	var env apierr.ErrorDTO
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if json.Unmarshal(raw, &env) == nil && env.Error != nil {
		e.Code, e.Reason, e.Message = env.Error.Code, env.Error.Reason, env.Error.Message
		return e
	}
	e.Code = apierr.CodeInternal
	e.Message = strings.TrimSpace(string(raw))
	if e.Message == "" {
		e.Message = http.StatusText(res.StatusCode)
	}
	return e
}

// ---------- auth / members ----------

// Login stores the returned token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*members.LoginResponse, error) {
	var out members.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, members.LoginRequest{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

func (c *Client) Register(ctx context.Context, req members.RegisterRequest) (*members.Member, error) {
	var out members.Member
	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*members.Member, error) {
	var out members.Member
	if err := c.do(ctx, http.MethodGet, "/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ChangePassword(ctx context.Context, current, next, confirm string) error {
	return c.do(ctx, http.MethodPut, "/me/password", nil, auth.ChangePasswordRequest{
		CurrentPassword: current, NewPassword: next, ConfirmPassword: confirm,
	}, nil)
}

func (c *Client) Members(ctx context.Context) ([]members.Member, error) {
	var out members.ListResponse
	if err := c.do(ctx, http.MethodGet, "/members", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) SetMemberStatus(ctx context.Context, id string, st members.Status) (*members.Member, error) {
	var out members.Member
	if err := c.do(ctx, http.MethodPatch, "/members/"+url.PathEscape(id)+"/status", nil, members.UpdateStatusRequest{Status: st}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------- books ----------

type BookQuery struct {
	Q         string
	Category  string
	Available bool
}

func (c *Client) Books(ctx context.Context, bq BookQuery) ([]catalog.Book, error) {
	q := url.Values{}
	if bq.Q != "" {
		q.Set("q", bq.Q)
	}
	if bq.Category != "" {
		q.Set("category", bq.Category)
	}
	if bq.Available {
		q.Set("available", "true")
	}
	var out catalog.ListResponse
	if err := c.do(ctx, http.MethodGet, "/books", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) CreateBook(ctx context.Context, req catalog.CreateBookRequest) (*catalog.Book, error) {
	var out catalog.Book
	if err := c.do(ctx, http.MethodPost, "/books", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------- loans ----------

type LoanQuery struct {
	MemberID string
	BookID   int64
	Status   circulation.Status
}

func (c *Client) Loans(ctx context.Context, lq LoanQuery) ([]circulation.Loan, error) {
	q := url.Values{}
	if lq.MemberID != "" {
		q.Set("memberId", lq.MemberID)
	}
	if lq.BookID > 0 {
		q.Set("bookId", strconv.FormatInt(lq.BookID, 10))
	}
	if lq.Status != "" {
		q.Set("status", string(lq.Status))
	}
	var out circulation.ListResponse
	if err := c.do(ctx, http.MethodGet, "/loans", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Borrow: memberID が空ならログイン中の会員。
func (c *Client) Borrow(ctx context.Context, bookID int64, memberID string) (*circulation.Loan, error) {
	var out circulation.Loan
	req := circulation.BorrowRequest{BookID: bookID, MemberID: circulation.MemberRef(memberID)}
	if err := c.do(ctx, http.MethodPost, "/loans", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Return: bookID が 0 以外なら貸出の本と一致するかサーバで確認される。
func (c *Client) Return(ctx context.Context, loanID, bookID int64) (*circulation.Loan, error) {
	var req circulation.ReturnRequest
	if bookID > 0 {
		req.BookID = &bookID
	}
	var out circulation.Loan
	if err := c.do(ctx, http.MethodPost, "/loans/"+strconv.FormatInt(loanID, 10)+"/return", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------- change feed ----------

const feedReadWait = 90 * time.Second

// Feed is one WebSocket subscription to /changes.
type Feed struct {
	C <-chan changefeed.Change

	conn *websocket.Conn
	done chan struct{}
	err  error
	once sync.Once
}

// Subscribe dials the change feed. The token goes in the query string.
func (c *Client) Subscribe(ctx context.Context) (*Feed, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/changes"
	q := url.Values{}
	q.Set(auth.TokenQueryParam, c.Token())
	u.RawQuery = q.Encode()

	conn, res, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if res != nil && res.StatusCode >= 300 {
			defer res.Body.Close()
			return nil, decodeError(res)
		}
		return nil, err
	}

	ch := make(chan changefeed.Change, changefeed.DefaultBuffer)
	f := &Feed{C: ch, conn: conn, done: make(chan struct{})}

	conn.SetReadDeadline(time.Now().Add(feedReadWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(feedReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	go f.read(ch)
	return f, nil
}

func (f *Feed) read(ch chan<- changefeed.Change) {
	defer close(ch)
	for {
		var msg changefeed.Message
		if err := f.conn.ReadJSON(&msg); err != nil {
			select {
			case <-f.done:
			default:
				f.err = err
			}
			return
		}
		f.conn.SetReadDeadline(time.Now().Add(feedReadWait))
		if msg.Type != changefeed.MsgChange || msg.Data == nil {
			continue
		}
		select {
		case ch <- *msg.Data:
		case <-f.done:
			return
		}
	}
}

// Err is the reason C was closed; nil after Close.
func (f *Feed) Err() error { return f.err }

func (f *Feed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}
