package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jdaza33/gmail-api/internal/mailsource"
	"github.com/jdaza33/gmail-api/internal/order"
)

// Payload is what the parser needs from a message: decoded body parts in message
// order and the subject.
type Payload struct {
	Subject order.Subject
	Parts   []string
}

// Extractor fetches a message and decodes its body parts.
type Extractor struct {
	Source  mailsource.Source
	Timeout time.Duration
}

func (e *Extractor) Extract(ctx context.Context, id mailsource.MessageID) (Payload, error) {
	ctx, cancel := withTimeout(ctx, e.Timeout)
	defer cancel()

	msg, err := e.Source.Get(ctx, id)
	if err != nil {
		return Payload{}, sourceError("get message", err)
	}

	p := Payload{Subject: order.NoSubject, Parts: make([]string, 0, len(msg.Parts))}
	if v, ok := msg.Header("Subject"); ok {
		p.Subject = order.TextSubject(v)
	}
	for i, part := range msg.Parts {
		text, err := decodePart(part)
		if err != nil {
			return Payload{}, fmt.Errorf("part %d (%s): %w: %w", i, part.MimeType, ErrDecode, err)
		}
		p.Parts = append(p.Parts, text)
	}
	return p, nil
}

// decodePart accepts padded or unpadded data, with or without line breaks, and
// falls back to the other base64 alphabet when the declared one does not fit.
func decodePart(p mailsource.Part) (string, error) {
	if p.Encoding == mailsource.EncodingIdentity {
		return p.Data, nil
	}
	data := strings.TrimRight(strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, p.Data), "=")

	first, second := base64.RawURLEncoding, base64.RawStdEncoding
	if p.Encoding == mailsource.EncodingBase64 {
		first, second = second, first
	}
	out, err := first.DecodeString(data)
	if err == nil {
		return string(out), nil
	}
	if out, err2 := second.DecodeString(data); err2 == nil {
		return string(out), nil
	}
	return "", err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
