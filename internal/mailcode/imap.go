package mailcode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
)

// imapClient speaks IMAP4rev1 via emersion/go-imap. One connection per
// automation run; Close is safe to call at any point (emergency cleanup
// may race a poll in flight).
type imapClient struct {
	host string
	port int
	tls  bool
	user string
	pass string

	c *imapclient.Client
}

func newIMAPClient(host string, port int, useTLS bool, user, pass string) *imapClient {
	if port == 0 {
		if useTLS {
			port = 993
		} else {
			port = 143
		}
	}
	return &imapClient{host: host, port: port, tls: useTLS, user: user, pass: pass}
}

func (m *imapClient) addr() string { return fmt.Sprintf("%s:%d", m.host, m.port) }

func (m *imapClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var (
		c   *imapclient.Client
		err error
	)
	if m.tls {
		c, err = imapclient.DialTLS(m.addr(), nil)
	} else {
		c, err = imapclient.Dial(m.addr())
	}
	if err != nil {
		return fmt.Errorf("imap dial %s: %w", m.addr(), err)
	}
	// go-imap's client has no context plumbing; a command timeout keeps a
	// wedged server from stalling the poll loop past its own deadline.
	c.Timeout = 30 * time.Second

	if err := c.Login(m.user, m.pass); err != nil {
		_ = c.Logout()
		return fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select("INBOX", true); err != nil {
		_ = c.Logout()
		return fmt.Errorf("imap select: %w", err)
	}
	m.c = c
	return nil
}

func (m *imapClient) Search(ctx context.Context, since time.Time) ([]uint32, error) {
	if m.c == nil {
		return nil, errors.New("imap: not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	crit := imap.NewSearchCriteria()
	// IMAP SINCE has day granularity; Fetch re-checks the exact instant.
	crit.Since = since.Truncate(24 * time.Hour)
	ids, err := m.c.Search(crit)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *imapClient) Fetch(ctx context.Context, id uint32) (Email, error) {
	if m.c == nil {
		return Email{}, errors.New("imap: not connected")
	}
	if err := ctx.Err(); err != nil {
		return Email{}, err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(id)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() { done <- m.c.Fetch(seqset, items, ch) }()

	var msg *imap.Message
	for mm := range ch {
		msg = mm
	}
	if err := <-done; err != nil {
		return Email{}, err
	}
	if msg == nil {
		return Email{}, fmt.Errorf("imap: message %d not found", id)
	}

	// The section literal is the full raw message; parse it so Body
	// carries decoded text only, never headers.
	var em Email
	if body := msg.GetBody(section); body != nil {
		parsed, err := emailFromRaw(id, body)
		if err != nil {
			return Email{}, err
		}
		em = parsed
	}
	em.ID = id
	if !msg.InternalDate.IsZero() {
		em.Received = msg.InternalDate
	}
	if env := msg.Envelope; env != nil {
		if env.Subject != "" {
			em.Subject = env.Subject
		}
		if len(env.From) > 0 {
			em.From = env.From[0].Address()
		}
		if em.Received.IsZero() {
			em.Received = env.Date
		}
	}
	return em, nil
}

func (m *imapClient) Close() error {
	c := m.c
	m.c = nil
	if c == nil {
		return nil
	}
	err := c.Logout()
	if err != nil && !strings.Contains(err.Error(), "closed") {
		return err
	}
	return nil
}
