// internal/runtime/googleapi.go
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/jdaza33/gmail-api/internal/credential"
	"github.com/jdaza33/gmail-api/internal/mailsource"
	"github.com/jdaza33/gmail-api/internal/rate"
)

const (
	gmailUser       = "me"
	unreadLabel     = "UNREAD"
	defaultPageSize = 100
	maxPageSize     = 500
)

type gmailSource struct {
	svc      *gmail.Service
	limiter  rate.Limiter
	pageSize int64
}

// NewGmailSource wraps svc. A nil limiter means unlimited; pageSize is clamped to
// the API maximum.
func NewGmailSource(svc *gmail.Service, limiter rate.Limiter, pageSize int) mailsource.Source {
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &gmailSource{svc: svc, limiter: limiter, pageSize: int64(pageSize)}
}

// GmailQuery renders f as a Gmail search query, e.g.
// `(from:a@x.com OR from:b@y.com) is:unread`.
func GmailQuery(f mailsource.Filter) string {
	var parts []string
	switch len(f.Senders) {
	case 0:
	case 1:
		parts = append(parts, "from:"+f.Senders[0])
	default:
		from := make([]string, len(f.Senders))
		for i, s := range f.Senders {
			from[i] = "from:" + s
		}
		parts = append(parts, "("+strings.Join(from, " OR ")+")")
	}
	if f.Unread {
		parts = append(parts, "is:unread")
	}
	return strings.Join(parts, " ")
}

func (g *gmailSource) List(ctx context.Context, f mailsource.Filter) ([]mailsource.MessageID, error) {
	q := GmailQuery(f)
	var (
		ids   []mailsource.MessageID
		token string
	)
	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		call := g.svc.Users.Messages.List(gmailUser).Q(q).MaxResults(g.pageSize)
		if token != "" {
			call = call.PageToken(token)
		}
		res, err := call.Context(ctx).Do()
		if err != nil {
			return nil, classify("list messages", err)
		}
		for _, m := range res.Messages {
			ids = append(ids, mailsource.MessageID(m.Id))
		}
		if res.NextPageToken == "" {
			return ids, nil
		}
		token = res.NextPageToken
	}
}

func (g *gmailSource) Get(ctx context.Context, id mailsource.MessageID) (mailsource.Message, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return mailsource.Message{}, err
	}
	msg, err := g.svc.Users.Messages.Get(gmailUser, string(id)).Format("full").Context(ctx).Do()
	if err != nil {
		return mailsource.Message{}, classify("get message", err)
	}
	out := mailsource.Message{ID: id}
	if msg.Payload == nil {
		return out, nil
	}
	for _, h := range msg.Payload.Headers {
		out.Headers = append(out.Headers, mailsource.Header{Name: h.Name, Value: h.Value})
	}
	out.Parts = flattenParts(msg.Payload, nil)
	return out, nil
}

func (g *gmailSource) RemoveUnreadMark(ctx context.Context, id mailsource.MessageID) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{unreadLabel}}
	if _, err := g.svc.Users.Messages.Modify(gmailUser, string(id), req).Context(ctx).Do(); err != nil {
		return classify("modify message", err)
	}
	return nil
}

// flattenParts walks the MIME tree depth-first and keeps leaves that carry inline
// data. Attachments only have an attachment id and are skipped.
func flattenParts(p *gmail.MessagePart, out []mailsource.Part) []mailsource.Part {
	if p == nil {
		return out
	}
	if len(p.Parts) == 0 {
		if p.Body != nil && p.Body.Data != "" {
			out = append(out, mailsource.Part{
				MimeType: p.MimeType,
				Data:     p.Body.Data,
				Encoding: mailsource.EncodingBase64URL,
			})
		}
		return out
	}
	for _, child := range p.Parts {
		out = flattenParts(child, out)
	}
	return out
}

func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized || (apiErr.Code == http.StatusForbidden && !rateLimited(apiErr)) {
			return fmt.Errorf("%s: %w: %v", op, mailsource.ErrUnauthorized, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) || errors.Is(err, credential.ErrNoToken) {
		return fmt.Errorf("%s: %w: %v", op, mailsource.ErrUnauthorized, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func rateLimited(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if strings.Contains(strings.ToLower(item.Reason), "ratelimit") {
			return true
		}
	}
	return false
}
