package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jdaza33/gmail-api/internal/mailsource"
)

var (
	// ErrTransport is a mail provider failure other than rejected credentials.
	ErrTransport = errors.New("mail transport failure")
	// ErrAuth means the provider rejected the credentials. It is surfaced to the
	// caller of a cycle so the credential refresh or restart path can run.
	ErrAuth = errors.New("mail credentials rejected")
	// ErrDecode is a body part that could not be decoded from its transfer encoding.
	ErrDecode = errors.New("undecodable body part")
	// ErrPersist wraps a record store failure; the message stays unread.
	ErrPersist = errors.New("persist record failed")
	// ErrAcknowledge means the record was stored but the unread mark was not removed.
	ErrAcknowledge = errors.New("acknowledge message failed")

	// ErrCycleInProgress refuses a trigger while another cycle holds the gate.
	ErrCycleInProgress = errors.New("ingestion cycle already in progress")
	// ErrClosed refuses triggers once the runner is draining for shutdown or restart.
	ErrClosed = errors.New("ingestion runner closed")
)

// Stage names the step of the per-message pipeline that failed.
type Stage string

const (
	StageList        Stage = "list"
	StageExtract     Stage = "extract"
	StagePersist     Stage = "persist"
	StageAcknowledge Stage = "acknowledge"
)

// StageError records a per-message failure at the cycle boundary.
type StageError struct {
	Stage     Stage
	MessageID mailsource.MessageID
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.MessageID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Stage     Stage  `json:"stage"`
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	}{e.Stage, string(e.MessageID), e.Err.Error()})
}

// sourceError maps a mail provider error onto ErrAuth or ErrTransport.
func sourceError(op string, err error) error {
	if errors.Is(err, mailsource.ErrUnauthorized) {
		return fmt.Errorf("%s: %w: %w", op, ErrAuth, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}
