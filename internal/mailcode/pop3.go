package mailcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/knadh/go-pop3"
)

// pop3Client is the POP3 mailbox variant (some providers only expose POP).
// POP3 has no server-side search, so Search lists the most recent messages
// and Fetch filters by date after retrieval.
type pop3Client struct {
	host string
	port int
	tls  bool
	user string
	pass string

	p    *pop3.Client
	conn *pop3.Conn
}

// pop3ScanWindow caps how many of the newest messages one Search inspects.
const pop3ScanWindow = 20

func newPOP3Client(host string, port int, useTLS bool, user, pass string) *pop3Client {
	if port == 0 {
		if useTLS {
			port = 995
		} else {
			port = 110
		}
	}
	return &pop3Client{host: host, port: port, tls: useTLS, user: user, pass: pass}
}

func (p *pop3Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.p = pop3.New(pop3.Opt{
		Host:        p.host,
		Port:        p.port,
		TLSEnabled:  p.tls,
		DialTimeout: 30 * time.Second,
	})
	conn, err := p.p.NewConn()
	if err != nil {
		return fmt.Errorf("pop3 dial %s:%d: %w", p.host, p.port, err)
	}
	if err := conn.Auth(p.user, p.pass); err != nil {
		_ = conn.Quit()
		return fmt.Errorf("pop3 auth: %w", err)
	}
	p.conn = conn
	return nil
}

func (p *pop3Client) Search(ctx context.Context, since time.Time) ([]uint32, error) {
	_ = since // no server-side filtering in POP3; Fetch applies the cutoff
	if p.conn == nil {
		return nil, errors.New("pop3: not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	count, _, err := p.conn.Stat()
	if err != nil {
		return nil, err
	}
	start := count - pop3ScanWindow + 1
	if start < 1 {
		start = 1
	}
	ids := make([]uint32, 0, count-start+1)
	for i := start; i <= count; i++ {
		ids = append(ids, uint32(i))
	}
	return ids, nil
}

func (p *pop3Client) Fetch(ctx context.Context, id uint32) (Email, error) {
	if p.conn == nil {
		return Email{}, errors.New("pop3: not connected")
	}
	if err := ctx.Err(); err != nil {
		return Email{}, err
	}
	m, err := p.conn.Retr(int(id))
	if err != nil {
		return Email{}, err
	}
	return emailFromEntity(id, m)
}

func (p *pop3Client) Close() error {
	conn := p.conn
	p.conn = nil
	if conn == nil {
		return nil
	}
	return conn.Quit()
}
