package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"libportal/internal/catalog"
	"libportal/internal/circulation"
	"libportal/internal/members"
	"libportal/internal/platform/logging"
	"libportal/internal/portal"
)

const defaultServer = "http://localhost:8443"

type app struct {
	in       io.Reader
	out, err io.Writer

	server      string
	sessionPath string
	verbose     bool

	stdin *bufio.Reader
}

func newRootCmd(in io.Reader, out, errw io.Writer) *cobra.Command {
	a := &app{in: in, out: out, err: errw, stdin: bufio.NewReader(in)}

	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Village library portal client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errw)
	root.PersistentFlags().StringVar(&a.server, "server", os.Getenv("LIBPORTAL_SERVER"), "server URL (default: saved session or "+defaultServer+")")
	root.PersistentFlags().StringVar(&a.sessionPath, "session", "", "session file (default: $XDG_CONFIG_HOME/libportal/session.json)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log sync details to stderr")

	root.AddCommand(
		a.loginCmd(), a.logoutCmd(), a.registerCmd(),
		a.booksCmd(), a.addBookCmd(),
		a.borrowCmd(), a.returnCmd(), a.loansCmd(),
		a.membersCmd(), a.memberStatusCmd(),
		a.watchCmd(),
	)
	return root
}

// ---------- plumbing ----------

func (a *app) sessionFile() (portal.SessionFile, error) {
	if a.sessionPath != "" {
		return portal.SessionFile{Path: a.sessionPath}, nil
	}
	p, err := portal.DefaultSessionPath()
	if err != nil {
		return portal.SessionFile{}, err
	}
	return portal.SessionFile{Path: p}, nil
}

func (a *app) logger() *logging.Logger {
	level := "error"
	if a.verbose {
		level = "debug"
	}
	return logging.New(logging.Config{Level: level, Writer: a.err, Component: "portalctl"})
}

// client builds an API client. With requireLogin the saved session must exist.
func (a *app) client(requireLogin bool) (*portal.Client, *portal.Session, error) {
	f, err := a.sessionFile()
	if err != nil {
		return nil, nil, err
	}
	sess, err := f.Load()
	switch {
	case errors.Is(err, portal.ErrNoSession):
		if requireLogin {
			return nil, nil, errors.New("not logged in; run `portalctl login` first")
		}
		sess = nil
	case err != nil:
		return nil, nil, err
	}

	server := a.server
	if server == "" && sess != nil {
		server = sess.Server
	}
	if server == "" {
		server = defaultServer
	}
	a.server = server
	var opts []portal.Option
	if sess != nil {
		opts = append(opts, portal.WithToken(sess.Token))
	}
	c, err := portal.NewClient(server, opts...)
	if err != nil {
		return nil, nil, err
	}
	return c, sess, nil
}

// readPassword は端末ならエコーなし、パイプなら1行読む。
func (a *app) readPassword(prompt string) (string, error) {
	fmt.Fprint(a.err, prompt)
	if f, ok := a.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.err)
		return string(b), err
	}
	line, err := a.stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

// ---------- session ----------

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login EMAIL",
		Short: "Log in and save the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client(false)
			if err != nil {
				return err
			}
			pw, err := a.readPassword("Password: ")
			if err != nil {
				return err
			}
			res, err := c.Login(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			f, err := a.sessionFile()
			if err != nil {
				return err
			}
			if err := f.Save(portal.SessionFrom(a.server, res)); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Logged in as %s (%s)\n", res.Session.Name, res.Session.Role)
			return nil
		},
	}
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.sessionFile()
			if err != nil {
				return err
			}
			if err := f.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

func (a *app) registerCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new member account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client(false)
			if err != nil {
				return err
			}
			pw, err := a.readPassword("Password: ")
			if err != nil {
				return err
			}
			confirm, err := a.readPassword("Confirm password: ")
			if err != nil {
				return err
			}
			m, err := portal.NewSyncer(c, a.logger()).RegisterMember(cmd.Context(), members.RegisterRequest{
				Name: name, Email: email, Password: pw, PasswordConfirm: confirm,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Registered %s <%s> (id %s)\n", m.Name, m.Email, m.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// ---------- books ----------

func (a *app) booksCmd() *cobra.Command {
	var q portal.BookQuery
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client(false)
			if err != nil {
				return err
			}
			books, err := c.Books(cmd.Context(), q)
			if err != nil {
				return err
			}
			printBooks(a.out, books)
			return nil
		},
	}
	cmd.Flags().StringVarP(&q.Q, "q", "q", "", "title or author contains")
	cmd.Flags().StringVar(&q.Category, "category", "", "category (Semua = all)")
	cmd.Flags().BoolVar(&q.Available, "available", false, "only books in stock")
	return cmd
}

func printBooks(w io.Writer, books []catalog.Book) {
	tw := table(w)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tCATEGORY\tSTOCK")
	for _, b := range books {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", b.ID, b.Title, b.Author, b.Category, b.Stock)
	}
	tw.Flush()
}

func (a *app) addBookCmd() *cobra.Command {
	var (
		req   catalog.CreateBookRequest
		stock int
	)
	cmd := &cobra.Command{
		Use:   "add-book",
		Short: "Add a book to the catalog (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client(true)
			if err != nil {
				return err
			}
			req.Stock = &stock
			s := portal.NewSyncer(c, a.logger())
			b, err := s.AddBook(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added book %d: %s\n", b.ID, b.Title)
			fmt.Fprintf(a.out, "Catalog now has %d titles\n", len(s.Books()))
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "title")
	cmd.Flags().StringVar(&req.Author, "author", "", "author")
	cmd.Flags().StringVar(&req.Category, "category", "", "category")
	cmd.Flags().IntVar(&stock, "stock", 1, "copies available")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("author")
	return cmd
}

// ---------- loans ----------

func (a *app) borrowCmd() *cobra.Command {
	var member string
	cmd := &cobra.Command{
		Use:   "borrow BOOK_ID",
		Short: "Borrow a book for 7 days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID(args[0], "book id")
			if err != nil {
				return err
			}
			c, _, err := a.client(true)
			if err != nil {
				return err
			}
			s := portal.NewSyncer(c, a.logger())
			loan, err := s.Borrow(cmd.Context(), bookID, member)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Loan %d: book %d due %s\n", loan.ID, loan.BookID, loan.DueDate)
			printStock(a.out, s.Books(), loan.BookID)
			return nil
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "member id (admin only; default: yourself)")
	return cmd
}

func (a *app) returnCmd() *cobra.Command {
	var bookID int64
	cmd := &cobra.Command{
		Use:   "return LOAN_ID",
		Short: "Return a borrowed book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loanID, err := parseID(args[0], "loan id")
			if err != nil {
				return err
			}
			c, _, err := a.client(true)
			if err != nil {
				return err
			}
			s := portal.NewSyncer(c, a.logger())
			loan, err := s.Return(cmd.Context(), loanID, bookID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Loan %d returned on %s\n", loan.ID, deref(loan.ReturnedOn))
			printStock(a.out, s.Books(), loan.BookID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&bookID, "book", 0, "expected book id (checked by the server)")
	return cmd
}

// printStock reports the copies left after a refresh. Nothing is printed when
// the refresh could not read the catalog.
func printStock(w io.Writer, books []catalog.Book, id int64) {
	for _, b := range books {
		if b.ID == id {
			fmt.Fprintf(w, "%s: %d in stock\n", b.Title, b.Stock)
			return
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func (a *app) loansCmd() *cobra.Command {
	var (
		q      portal.LoanQuery
		status string
	)
	cmd := &cobra.Command{
		Use:   "loans",
		Short: "List loans (members see their own)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client(true)
			if err != nil {
				return err
			}
			q.Status = circulation.Status(status)
			loans, err := c.Loans(cmd.Context(), q)
			if err != nil {
				return err
			}
			tw := table(a.out)
			fmt.Fprintln(tw, "ID\tBOOK\tMEMBER\tLOANED\tDUE\tSTATUS\tRETURNED")
			for _, l := range loans {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.BookID, l.MemberID, l.LoanDate, l.DueDate, l.Status, deref(l.ReturnedOn))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "borrowed | returned | overdue")
	cmd.Flags().StringVar(&q.MemberID, "member", "", "member id (admin)")
	cmd.Flags().Int64Var(&q.BookID, "book", 0, "book id")
	return cmd
}

// ---------- members ----------

func (a *app) membersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members",
		Short: "List members (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client(true)
			if err != nil {
				return err
			}
			list, err := c.Members(cmd.Context())
			if err != nil {
				return err
			}
			tw := table(a.out)
			fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE\tSTATUS\tJOINED")
			for _, m := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Email, m.Role, m.Status, m.JoinDate)
			}
			return tw.Flush()
		},
	}
}

func (a *app) memberStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "member-status MEMBER_ID active|pending|blocked",
		Short:     "Approve, block or unblock a member (admin)",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"active", "pending", "blocked"},
		RunE: func(cmd *cobra.Command, args []string) error {
			st := members.Status(args[1])
			if !st.Valid() {
				return fmt.Errorf("status must be active, pending or blocked")
			}
			c, _, err := a.client(true)
			if err != nil {
				return err
			}
			m, err := c.SetMemberStatus(cmd.Context(), args[0], st)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s is now %s\n", m.Name, m.Status)
			return nil
		},
	}
}

// ---------- watch ----------

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the change feed and print a summary after each refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client(true)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			s := portal.NewSyncer(c, a.logger())
			s.OnRefresh(func(snap portal.Snapshot) {
				fmt.Fprintln(a.out, summary(time.Now(), snap))
			})
			return s.Run(ctx)
		},
	}
}

func summary(now time.Time, snap portal.Snapshot) string {
	var copies, out, overdue int
	for _, b := range snap.Books {
		copies += b.Stock
	}
	for _, l := range snap.Loans {
		if l.Status.Outstanding() {
			out++
		}
		if l.Status == circulation.StatusOverdue {
			overdue++
		}
	}
	return fmt.Sprintf("%s  books=%d copies=%d members=%d loans=%d out=%d overdue=%d",
		now.Format("15:04:05"), len(snap.Books), copies, len(snap.Members), len(snap.Loans), out, overdue)
}
