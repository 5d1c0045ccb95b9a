// Package order turns the pipe-delimited block of an order notification into a Record.
package order

import "time"

// StatusNew marks a record that has not been picked up by the downstream workflow.
const StatusNew = "0"

// Record is one service order as persisted to the store.
type Record struct {
	Nombre    string    `json:"nombre"`
	Direccion string    `json:"direccion"`
	CP        string    `json:"cp"`
	Telefono1 string    `json:"telefono1"`
	Telefono2 string    `json:"telefono2"`
	Aparato   string    `json:"aparato"`
	Marca     string    `json:"marca"`
	Averia    string    `json:"averia"`
	Nro       *int64    `json:"nro"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
}

// Outcome is the result of Parse. A zero Outcome is NotParseable.
type Outcome struct {
	Record    Record
	Parseable bool
}

// NotParseable reports whether no order block was found in the message.
func (o Outcome) NotParseable() bool { return !o.Parseable }

// Subject is the message subject as handed to the parser. It is either the header
// text or a number; the number form is used when the header is missing (zero) or
// when a previously derived order number is reprocessed.
type Subject struct {
	text    string
	number  int64
	numeric bool
}

// TextSubject wraps a Subject header value.
func TextSubject(s string) Subject { return Subject{text: s} }

// NumericSubject wraps an already known order number.
func NumericSubject(n int64) Subject { return Subject{number: n, numeric: true} }

// NoSubject is the sentinel for a message without a Subject header.
var NoSubject = NumericSubject(0)

// String returns the subject as it would appear in logs.
func (s Subject) String() string {
	if s.numeric {
		return formatInt(s.number)
	}
	return s.text
}
