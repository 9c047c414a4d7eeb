// Package mailcode retrieves site verification codes from a mailbox.
//
// The booking site occasionally challenges a submission with a short code
// sent by email. Delivery is asynchronous and the mailbox has no push
// channel, so retrieval is a bounded poll: list recent messages, classify
// the ones that look like verification mail, and extract the first code
// whose shape is valid.
package mailcode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"courtbot/internal/config"
)

var (
	// ErrNoCode means a message was examined but no code-shaped candidate
	// was found. Distinct from "" so callers can't mistake absence for an
	// empty code.
	ErrNoCode = errors.New("no verification code found")

	// ErrCodeTimeout means the poll window closed without a usable code.
	ErrCodeTimeout = errors.New("timed out waiting for verification code")
)

// Email is one fetched message. Ephemeral; never persisted.
type Email struct {
	ID       uint32
	From     string
	Subject  string
	Body     string
	Received time.Time
}

// Client is one mailbox connection. Implementations are not safe for
// concurrent use; each automation run owns at most one.
type Client interface {
	Connect(ctx context.Context) error
	// Search lists candidate message IDs received at-or-after since,
	// newest last.
	Search(ctx context.Context, since time.Time) ([]uint32, error)
	Fetch(ctx context.Context, id uint32) (Email, error)
	Close() error
}

// PollOptions bound the wait-for-code loop.
type PollOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
	return o
}

// Dial builds the provider-specific client from the mailbox section and
// vault credentials. The connection is opened lazily in Connect.
func Dial(cfg config.MailboxConfig, creds config.Credentials) (Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = strings.TrimSpace(creds.ServerHost)
	}
	if host == "" {
		return nil, errors.New("mailbox host not configured")
	}
	switch p := strings.ToLower(strings.TrimSpace(cfg.Provider)); p {
	case "imap", "":
		return newIMAPClient(host, cfg.Port, cfg.TLS, creds.Address, creds.Secret), nil
	case "pop3":
		return newPOP3Client(host, cfg.Port, cfg.TLS, creds.Address, creds.Secret), nil
	default:
		return nil, fmt.Errorf("unknown mailbox provider %q", p)
	}
}

// AwaitCode polls the mailbox until a verification email with a valid code
// arrives, the context is canceled, or the window closes.
//
// The client must already be connected. Messages older than `since` are
// ignored so a stale code from a previous run can't be replayed.
func AwaitCode(ctx context.Context, c Client, cls Classifier, since time.Time, opt PollOptions) (string, error) {
	opt = opt.withDefaults()
	deadline := time.Now().Add(opt.Timeout)

	seen := map[uint32]bool{}
	for {
		ids, err := c.Search(ctx, since)
		if err != nil {
			return "", fmt.Errorf("mailbox search: %w", err)
		}
		// Newest first: the code mail is almost always the latest arrival.
		for i := len(ids) - 1; i >= 0; i-- {
			id := ids[i]
			if seen[id] {
				continue
			}
			seen[id] = true
			em, err := c.Fetch(ctx, id)
			if err != nil {
				return "", fmt.Errorf("mailbox fetch: %w", err)
			}
			if em.Received.Before(since) {
				continue
			}
			if !cls.IsVerification(em) {
				continue
			}
			code, err := ExtractCode(em.Subject, em.Body)
			if err == nil {
				return code, nil
			}
			if !errors.Is(err, ErrNoCode) {
				return "", err
			}
			// classified as verification mail but no code; keep polling
		}

		if time.Now().After(deadline) {
			return "", ErrCodeTimeout
		}
		t := time.NewTimer(opt.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
}
