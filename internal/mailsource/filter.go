package mailsource

import (
	"net/mail"
	"strings"
)

// DefaultSenders is the allow-list of order notification senders.
var DefaultSenders = []string{
	"pedidos@satdelamarca.com",
	"pedidos.2@satdelamarca.com",
	"pedidos.3@satdelamarca.com",
	"dmartinez@electrorenova.es",
	"blackencio33@gmail.com",
}

// Filter selects candidate messages: any of Senders, and only unread ones when
// Unread is set.
type Filter struct {
	Senders []string
	Unread  bool
}

// NewFilter normalizes the sender list: display names are dropped, addresses are
// lower-cased, blanks and duplicates removed, order kept.
func NewFilter(senders []string, unread bool) Filter {
	seen := make(map[string]struct{}, len(senders))
	out := make([]string, 0, len(senders))
	for _, s := range senders {
		addr := normalizeSender(s)
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return Filter{Senders: out, Unread: unread}
}

func normalizeSender(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return strings.ToLower(addr.Address)
	}
	raw = strings.Trim(raw, "<>\" ")
	return strings.ToLower(raw)
}
