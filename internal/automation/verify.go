package automation

import (
	"context"
	"fmt"
	"time"

	"courtbot/internal/config"
	"courtbot/internal/mailcode"
	"courtbot/pkg/logx"
)

// CodeRetriever fetches the verification code the site mailed after a
// submission. `since` is the submission instant; older mail is ignored.
type CodeRetriever interface {
	Retrieve(ctx context.Context, since time.Time) (string, error)
}

// MailboxRetriever is the production CodeRetriever: one mailbox
// connection per retrieval, closed before returning so an aborted run
// never leaks a connection.
type MailboxRetriever struct {
	cfg   config.MailboxConfig
	creds config.Credentials
	cls   mailcode.Classifier
	opt   mailcode.PollOptions
	log   logx.Logger
}

func NewMailboxRetriever(cfg config.MailboxConfig, creds config.Credentials, log logx.Logger) (*MailboxRetriever, error) {
	interval, err := config.ParseDurationField("mailbox.poll_interval", cfg.PollInterval)
	if err != nil {
		return nil, err
	}
	timeout, err := config.ParseDurationField("mailbox.poll_timeout", cfg.PollTimeout)
	if err != nil {
		return nil, err
	}
	return &MailboxRetriever{
		cfg:   cfg,
		creds: creds,
		cls:   mailcode.NewHeuristic(cfg.Senders, cfg.Keywords),
		opt:   mailcode.PollOptions{Interval: interval, Timeout: timeout},
		log:   log.With(logx.String("component", "mailcode")),
	}, nil
}

func (r *MailboxRetriever) Retrieve(ctx context.Context, since time.Time) (string, error) {
	c, err := mailcode.Dial(r.cfg, r.creds)
	if err != nil {
		return "", err
	}
	if err := c.Connect(ctx); err != nil {
		return "", fmt.Errorf("mailbox connect: %w", err)
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			r.log.Warn("mailbox close failed", logx.Err(cerr))
		}
	}()

	r.log.Debug("awaiting verification code",
		logx.Secret("account", r.creds.Address),
		logx.Time("since", since))
	code, err := mailcode.AwaitCode(ctx, c, r.cls, since, r.opt)
	if err != nil {
		return "", err
	}
	r.log.Info("verification code retrieved", logx.Secret("code", code))
	return code, nil
}
