// Package audit records who did what on the sensitive endpoints. Records
// go two places: the structured log for operators, and the event log so
// the read side can project an audit trail.
package audit

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/lanonasis/authgate/pkg/eventlog"
)

// Entry is one audit fact. Actor is a user id, client id, or "anonymous".
type Entry struct {
	Actor     string
	Action    string
	Resource  string
	IPAddress string
	UserAgent string
	Success   bool
	ErrorCode string
}

// Recorder writes audit entries. The event emit is best-effort: a failed
// append must never fail the request that produced the entry.
type Recorder struct {
	sink eventlog.Sink
}

func NewRecorder(sink eventlog.Sink) *Recorder {
	return &Recorder{sink: sink}
}

func (r *Recorder) Record(ctx context.Context, e Entry) {
	actor := e.Actor
	if actor == "" {
		actor = "anonymous"
	}

	evt := log.Info()
	if !e.Success {
		evt = log.Warn()
	}
	evt.Str("actor", actor).
		Str("action", e.Action).
		Str("resource", e.Resource).
		Str("ip", e.IPAddress).
		Bool("success", e.Success)
	if e.ErrorCode != "" {
		evt = evt.Str("error_code", e.ErrorCode)
	}
	evt.Msg("audit")

	if r.sink == nil {
		return
	}
	payload, err := json.Marshal(eventlog.AuditPayload{
		Actor:     actor,
		Action:    e.Action,
		Resource:  e.Resource,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		Success:   e.Success,
		ErrorCode: e.ErrorCode,
	})
	if err != nil {
		return
	}
	err = r.sink.Emit(ctx, eventlog.Event{
		AggregateType: eventlog.AggregateAudit,
		AggregateID:   actor,
		EventType:     eventlog.EventAuthEventLogged,
		Payload:       payload,
	})
	if err != nil {
		log.Debug().Err(err).Str("action", e.Action).Msg("audit event append failed")
	}
}

// Nop returns a recorder that only logs, for wiring where the event log is
// absent (tests, the forwarder process).
func Nop() *Recorder { return &Recorder{} }
