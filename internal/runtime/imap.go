// internal/runtime/imap.go
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/jdaza33/gmail-api/internal/mailsource"
	"github.com/jdaza33/gmail-api/internal/rate"
)

// IMAPOptions configures the IMAP mailbox adapter.
type IMAPOptions struct {
	Host        string
	Port        int
	Username    string
	Password    string
	TLS         bool
	Mailbox     string
	DialTimeout time.Duration
}

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

type imapSource struct {
	opts    IMAPOptions
	limiter rate.Limiter
	dial    func(IMAPOptions) (imapClient, error)
}

// NewIMAPSource returns a Source that opens one IMAP session per call. Message ids
// are mailbox UIDs in decimal.
func NewIMAPSource(opts IMAPOptions, limiter rate.Limiter) mailsource.Source {
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	if opts.Mailbox == "" {
		opts.Mailbox = "INBOX"
	}
	if opts.Port == 0 {
		opts.Port = 143
		if opts.TLS {
			opts.Port = 993
		}
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &imapSource{opts: opts, limiter: limiter, dial: dialIMAP}
}

func dialIMAP(opts IMAPOptions) (imapClient, error) {
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	clientOpts := &imapclient.Options{Dialer: &net.Dialer{Timeout: opts.DialTimeout}}
	var (
		c   *imapclient.Client
		err error
	)
	if opts.TLS {
		c, err = imapclient.DialTLS(addr, clientOpts)
	} else {
		c, err = imapclient.DialStartTLS(addr, clientOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	return &imapClientWrapper{Client: c}, nil
}

// session dials, logs in and selects the mailbox. The returned release func logs
// out and must always be called.
func (s *imapSource) session(ctx context.Context) (imapClient, func(), error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	c, err := s.dial(s.opts)
	if err != nil {
		return nil, nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	release := func() {
		stop()
		_ = c.Logout().Wait()
		_ = c.Close()
	}
	if err := c.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		release()
		return nil, nil, fmt.Errorf("imap login %s: %w: %v", s.opts.Username, mailsource.ErrUnauthorized, err)
	}
	if _, err := c.Select(s.opts.Mailbox, nil).Wait(); err != nil {
		release()
		return nil, nil, fmt.Errorf("imap select %s: %w", s.opts.Mailbox, err)
	}
	return c, release, nil
}

func (s *imapSource) List(ctx context.Context, f mailsource.Filter) ([]mailsource.MessageID, error) {
	c, release, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := c.UIDSearch(SearchCriteria(f), nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids := data.AllUIDs()
	ids := make([]mailsource.MessageID, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, mailsource.MessageID(strconv.FormatUint(uint64(uid), 10)))
	}
	return ids, nil
}

func (s *imapSource) Get(ctx context.Context, id mailsource.MessageID) (mailsource.Message, error) {
	uid, err := parseUID(id)
	if err != nil {
		return mailsource.Message{}, err
	}
	c, release, err := s.session(ctx)
	if err != nil {
		return mailsource.Message{}, err
	}
	defer release()

	section := &imap.FetchItemBodySection{Peek: true}
	bufs, err := c.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return mailsource.Message{}, fmt.Errorf("imap fetch %s: %w", id, err)
	}
	for _, buf := range bufs {
		if buf.UID != uid {
			continue
		}
		raw := buf.FindBodySection(section)
		if raw == nil {
			break
		}
		msg, err := parseMIME(raw)
		if err != nil {
			return mailsource.Message{}, fmt.Errorf("imap parse %s: %w", id, err)
		}
		msg.ID = id
		return msg, nil
	}
	return mailsource.Message{}, fmt.Errorf("imap fetch %s: message not found", id)
}

func (s *imapSource) RemoveUnreadMark(ctx context.Context, id mailsource.MessageID) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}
	c, release, err := s.session(ctx)
	if err != nil {
		return err
	}
	defer release()

	store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagSeen}}
	if err := c.Store(imap.UIDSetNum(uid), store, nil).Close(); err != nil {
		return fmt.Errorf("imap store seen %s: %w", id, err)
	}
	return nil
}

// SearchCriteria turns f into an IMAP search: unseen messages whose From header
// contains any of the senders.
func SearchCriteria(f mailsource.Filter) *imap.SearchCriteria {
	c := &imap.SearchCriteria{}
	if f.Unread {
		c.NotFlag = []imap.Flag{imap.FlagSeen}
	}
	if from := fromCriteria(f.Senders); from != nil {
		c.And(from)
	}
	return c
}

func fromCriteria(senders []string) *imap.SearchCriteria {
	if len(senders) == 0 {
		return nil
	}
	head := &imap.SearchCriteria{Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: senders[0]}}}
	rest := fromCriteria(senders[1:])
	if rest == nil {
		return head
	}
	return &imap.SearchCriteria{Or: [][2]imap.SearchCriteria{{*head, *rest}}}
}

func parseUID(id mailsource.MessageID) (imap.UID, error) {
	n, err := strconv.ParseUint(string(id), 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("imap: invalid message id %q", id)
	}
	return imap.UID(n), nil
}

// parseMIME reads a raw RFC 5322 message. Inline text parts are returned already
// decoded, in message order; attachments are dropped.
func parseMIME(raw []byte) (mailsource.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return mailsource.Message{}, err
	}
	defer mr.Close()

	var out mailsource.Message
	for _, name := range []string{"Subject", "From"} {
		if !mr.Header.Has(name) {
			continue
		}
		v, err := mr.Header.Text(name)
		if err != nil {
			v = mr.Header.Get(name)
		}
		out.Headers = append(out.Headers, mailsource.Header{Name: name, Value: v})
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return out, err
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}
		if !strings.HasPrefix(contentType, "text/") {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return out, err
		}
		out.Parts = append(out.Parts, mailsource.Part{
			MimeType: contentType,
			Data:     string(body),
			Encoding: mailsource.EncodingIdentity,
		})
	}
	return out, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}
