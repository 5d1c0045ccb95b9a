package order

import (
	"strconv"
	"strings"
	"unicode"
)

const (
	delimiter  = "|"
	fieldCount = 8
	// Senders that omit the secondary phone shift every later field left by one;
	// the gap is always re-opened at this index.
	phoneGap = 4
)

// Parse extracts an order from the first part that contains the field delimiter.
// Parts before it (HTML alternatives, signatures) are ignored. A missing or
// unusable subject only leaves Nro nil; the only NotParseable case is a message
// without any delimiter.
func Parse(parts []string, subject Subject) Outcome {
	block, ok := orderBlock(parts)
	if !ok {
		return Outcome{}
	}

	fields := alignFields(strings.Split(block, delimiter))
	rec := Record{
		Nombre:    lastLine(fields[0]),
		Direccion: strings.TrimSpace(fields[1]),
		CP:        strings.TrimSpace(fields[2]),
		Aparato:   strings.TrimSpace(fields[5]),
		Marca:     strings.TrimSpace(fields[6]),
		Averia:    strings.TrimSpace(fields[7]),
		Status:    StatusNew,
	}
	rec.Telefono1, rec.Telefono2 = splitPhones(fields[3], fields[4])
	rec.Nro = OrderNumber(subject)

	return Outcome{Record: rec, Parseable: true}
}

func orderBlock(parts []string) (string, bool) {
	for _, p := range parts {
		if strings.Contains(p, delimiter) {
			return p, true
		}
	}
	return "", false
}

// alignFields maps the raw split onto the eight record positions. Short input gets
// the phone gap inserted at index 4; anything past the eighth field belongs to the
// fault description, which is free text and may itself contain the delimiter.
func alignFields(raw []string) []string {
	out := make([]string, fieldCount)
	if len(raw) >= fieldCount {
		copy(out, raw[:fieldCount-1])
		out[fieldCount-1] = strings.Join(raw[fieldCount-1:], delimiter)
		return out
	}

	head := raw
	if len(head) > phoneGap {
		head = raw[:phoneGap]
	}
	copy(out, head)
	if len(raw) > phoneGap {
		copy(out[phoneGap+1:], raw[phoneGap:])
	}
	return out
}

// lastLine keeps the final line of a multi-line name; the lines above it are
// boilerplate the sender's form prepends.
func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// splitPhones unfolds "a,b" in the primary phone field. The second number wins
// over whatever the secondary field held.
func splitPhones(primary, secondary string) (string, string) {
	primary = strings.TrimSpace(primary)
	secondary = strings.TrimSpace(secondary)

	first, rest, found := strings.Cut(primary, ",")
	if !found {
		return primary, secondary
	}
	if rest = strings.TrimSpace(rest); rest != "" {
		secondary = rest
	}
	return strings.TrimSpace(first), secondary
}

// OrderNumber derives the order number from the subject's first token. The token
// is read like a lenient integer parse: an optional sign followed by leading
// digits, so "1234" and "1234-B" both give 1234 while "Urgent" gives nil. A
// numeric subject is taken as is, except the zero no-subject sentinel.
func OrderNumber(subject Subject) *int64 {
	if subject.numeric {
		if subject.number == 0 {
			return nil
		}
		n := subject.number
		return &n
	}

	tokens := strings.FieldsFunc(subject.text, unicode.IsSpace)
	if len(tokens) == 0 {
		return nil
	}
	n, ok := leadingInt(tokens[0])
	if !ok {
		return nil
	}
	return &n
}

func leadingInt(token string) (int64, bool) {
	end := 0
	if end < len(token) && (token[end] == '+' || token[end] == '-') {
		end++
	}
	start := end
	for end < len(token) && token[end] >= '0' && token[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.ParseInt(token[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }
