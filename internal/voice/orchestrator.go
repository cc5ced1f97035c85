package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/mvirga/parlo/internal/audiobackup"
	"github.com/mvirga/parlo/internal/cefr"
	"github.com/mvirga/parlo/internal/observability"
	"github.com/mvirga/parlo/internal/protocol"
	"github.com/mvirga/parlo/internal/realtime"
	"github.com/mvirga/parlo/internal/records"
	"github.com/mvirga/parlo/internal/session"
	"github.com/mvirga/parlo/internal/transcript"
)

const flushTickInterval = time.Second

// Orchestrator drives practice sessions: one RunConnection loop per
// websocket connection, relaying learner audio upstream and tutor events
// back to the caller.
type Orchestrator struct {
	registry    *session.Registry
	relay       *Relay
	transcripts transcript.Store
	backup      *audiobackup.Buffer
	completion  *CompletionPipeline
	records     records.Store
	metrics     *observability.Metrics

	tutorVoice        string
	vadThreshold      float64
	silenceDurationMS int
}

func NewOrchestrator(
	registry *session.Registry,
	relay *Relay,
	transcripts transcript.Store,
	backup *audiobackup.Buffer,
	completion *CompletionPipeline,
	recordStore records.Store,
	metrics *observability.Metrics,
	tutorVoice string,
	vadThreshold float64,
	silenceDurationMS int,
) *Orchestrator {
	return &Orchestrator{
		registry:          registry,
		relay:             relay,
		transcripts:       transcripts,
		backup:            backup,
		completion:        completion,
		records:           recordStore,
		metrics:           metrics,
		tutorVoice:        tutorVoice,
		vadThreshold:      vadThreshold,
		silenceDurationMS: silenceDurationMS,
	}
}

// RunConnection drives the session lifecycle for one websocket connection.
// All per-session state transitions happen on this goroutine; the relay
// pump and the writer are the only other actors.
func (o *Orchestrator) RunConnection(ctx context.Context, connID string, inbound <-chan any, outbound chan<- any) error {
	var (
		sessionID     string
		upstream      <-chan realtime.Event
		tutorAudioSeq int
		tutorAudio    strings.Builder

		// Whether a tutor reply is being generated, tracked here in event
		// order. The relay's own flag moves at translation time, ahead of
		// where this loop has consumed to, so it cannot decide drops.
		replyInFlight bool
	)

	ticker := time.NewTicker(flushTickInterval)
	defer ticker.Stop()

	teardown := func(reason string) {
		if sessionID == "" {
			return
		}
		o.metrics.SessionEvents.WithLabelValues("teardown_" + reason).Inc()
		o.finishSession(ctx, sessionID, outbound, false)
		sessionID = ""
		upstream = nil
	}
	defer teardown("connection_closed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.Start:
				if sessionID != "" {
					o.sendError(outbound, m.SessionID, "invalid_payload", "protocol", false, "connection already has a live session")
					continue
				}
				events, err := o.startSession(ctx, connID, m, outbound)
				if err != nil {
					continue
				}
				sessionID = m.SessionID
				upstream = events
				tutorAudioSeq = 0
				tutorAudio.Reset()
				replyInFlight = false
			case protocol.AudioChunk:
				if sessionID == "" || m.SessionID != sessionID {
					o.sendError(outbound, m.SessionID, "session_not_connected", "protocol", false, "no live session for audio")
					continue
				}
				o.handleAudioChunk(ctx, m, outbound)
			case protocol.Interrupt:
				if sessionID == "" || m.SessionID != sessionID {
					continue
				}
				o.metrics.SessionEvents.WithLabelValues("interrupt").Inc()
				if err := o.relay.Interrupt(ctx, sessionID); err != nil {
					o.sendError(outbound, sessionID, "upstream_error", "relay", true, err.Error())
				}
				// Drop the unflushed accumulation for the interrupted turn.
				o.backup.Release(sessionID)
				tutorAudio.Reset()
				replyInFlight = false
				o.send(outbound, protocol.ReplyComplete{Type: protocol.TypeReplyComplete, SessionID: sessionID})
			case protocol.Stop:
				if sessionID == "" || m.SessionID != sessionID {
					o.sendError(outbound, m.SessionID, "session_not_connected", "protocol", false, "no live session to stop")
					continue
				}
				o.metrics.SessionEvents.WithLabelValues("stop").Inc()
				o.finishSession(ctx, sessionID, outbound, true)
				sessionID = ""
				upstream = nil
			}
		case evt, ok := <-upstream:
			if !ok {
				// Upstream link gone without a stop: error state, then teardown.
				_ = o.registry.SetState(sessionID, session.StateError)
				o.sendError(outbound, sessionID, "upstream_error", "relay", false, "upstream connection closed")
				teardown("upstream_closed")
				continue
			}
			o.handleUpstreamEvent(ctx, sessionID, evt, outbound, &tutorAudioSeq, &tutorAudio, &replyInFlight, teardown)
		case <-ticker.C:
			if sessionID != "" {
				if err := o.backup.FlushExpired(ctx, sessionID); err != nil {
					o.metrics.SessionEvents.WithLabelValues("flush_expired_failed").Inc()
				}
			}
		}
	}
}

func (o *Orchestrator) startSession(ctx context.Context, connID string, m protocol.Start, outbound chan<- any) (<-chan realtime.Event, error) {
	level := cefr.Lowest()
	if m.Level != "" {
		parsed, err := cefr.Parse(m.Level)
		if err != nil {
			o.sendError(outbound, m.SessionID, "invalid_payload", "protocol", false, err.Error())
			return nil, err
		}
		level = parsed
	}
	mode := session.Mode(m.Mode)
	if mode != session.ModePlacementTest {
		mode = session.ModeFreePractice
	}

	s, err := o.registry.Open(m.SessionID, connID, session.Params{
		PrincipalID: m.PrincipalID,
		Language:    m.Language,
		Level:       level,
		Mode:        mode,
	})
	if err != nil {
		o.sendError(outbound, m.SessionID, "invalid_payload", "registry", false, err.Error())
		return nil, err
	}

	events, err := o.relay.Open(ctx, realtime.SessionConfig{
		SessionID:         s.ID,
		Voice:             o.tutorVoice,
		Instructions:      tutorInstructions(s.Language, s.Level, s.Mode),
		VADThreshold:      o.vadThreshold,
		SilenceDurationMS: o.silenceDurationMS,
	})
	if err != nil {
		o.registry.Close(s.ID)
		o.sendError(outbound, s.ID, "upstream_error", "relay", true, err.Error())
		return nil, err
	}

	if err := o.records.CreatePracticeRecord(ctx, records.PracticeRecord{
		SessionID:   s.ID,
		PrincipalID: s.PrincipalID,
		Language:    s.Language,
		Level:       s.Level,
		Mode:        string(s.Mode),
		StartedAt:   s.CreatedAt,
	}); err != nil {
		o.metrics.SessionEvents.WithLabelValues("record_create_failed").Inc()
	}

	o.metrics.ActiveSessions.Inc()
	o.metrics.SessionEvents.WithLabelValues("session_opened").Inc()
	return events, nil
}

func (o *Orchestrator) handleAudioChunk(ctx context.Context, m protocol.AudioChunk, outbound chan<- any) {
	if seq, err := o.registry.NextAudioSeq(m.SessionID); err == nil && m.Seq > 0 && m.Seq != seq {
		o.metrics.SessionEvents.WithLabelValues("audio_seq_gap").Inc()
	}

	if err := o.relay.ForwardAudio(ctx, m.SessionID, m.AudioBase64); err != nil {
		code := "upstream_error"
		if err == ErrSessionNotConnected {
			code = "session_not_connected"
		}
		o.sendError(outbound, m.SessionID, code, "relay", true, err.Error())
		return
	}

	raw, err := base64.StdEncoding.DecodeString(m.AudioBase64)
	if err != nil {
		o.sendError(outbound, m.SessionID, "invalid_payload", "protocol", false, "audio_base64 is not valid base64")
		return
	}
	tsMS := m.TSMs
	if tsMS == 0 {
		tsMS = time.Now().UnixMilli()
	}
	if err := o.backup.Append(ctx, m.SessionID, raw, tsMS); err != nil {
		o.metrics.SessionEvents.WithLabelValues("backup_append_failed").Inc()
	}
}

func (o *Orchestrator) handleUpstreamEvent(
	ctx context.Context,
	sessionID string,
	evt realtime.Event,
	outbound chan<- any,
	tutorAudioSeq *int,
	tutorAudio *strings.Builder,
	replyInFlight *bool,
	teardown func(reason string),
) {
	switch evt.Type {
	case realtime.EventConnected:
		// The relay pump requests the opening greeting on this event.
		*replyInFlight = true
		if err := o.registry.SetState(sessionID, session.StateConnected); err != nil {
			o.metrics.SessionEvents.WithLabelValues("state_transition_failed").Inc()
		}
		s, err := o.registry.Get(sessionID)
		if err != nil {
			return
		}
		o.send(outbound, protocol.SessionStarted{
			Type:      protocol.TypeSessionStarted,
			SessionID: sessionID,
			Language:  s.Language,
			Level:     string(s.Level),
			Mode:      string(s.Mode),
		})
	case realtime.EventSpeechStarted:
		_ = o.registry.MarkSpeechStart(sessionID, evt.Timestamp)
		o.send(outbound, protocol.SpeechStarted{Type: protocol.TypeSpeechStarted, SessionID: sessionID, TSMs: evt.Timestamp})
	case realtime.EventSpeechStopped:
		if err := o.relay.Commit(ctx, sessionID); err != nil {
			o.sendError(outbound, sessionID, "upstream_error", "relay", true, err.Error())
		}
		if err := o.backup.FlushNow(ctx, sessionID); err != nil {
			o.metrics.SessionEvents.WithLabelValues("turn_flush_failed").Inc()
		}
		o.send(outbound, protocol.SpeechStopped{Type: protocol.TypeSpeechStopped, SessionID: sessionID, TSMs: evt.Timestamp})
	case realtime.EventTranscriptDelta:
		o.send(outbound, protocol.TranscriptPartial{
			Type:      protocol.TypeTranscriptPartial,
			SessionID: sessionID,
			Role:      evt.Role,
			Text:      evt.Text,
			TSMs:      evt.Timestamp,
		})
	case realtime.EventTranscriptDone:
		o.handleTranscriptDone(ctx, sessionID, evt, outbound, tutorAudio, replyInFlight)
	case realtime.EventAudioDelta:
		if evt.AudioBase64 == "" {
			return
		}
		*tutorAudioSeq++
		tutorAudio.WriteString(evt.AudioBase64)
		o.send(outbound, protocol.TutorAudioChunk{
			Type:        protocol.TypeTutorAudioChunk,
			SessionID:   sessionID,
			Seq:         *tutorAudioSeq,
			AudioBase64: evt.AudioBase64,
		})
	case realtime.EventResponseDone:
		*replyInFlight = false
		o.send(outbound, protocol.ReplyComplete{Type: protocol.TypeReplyComplete, SessionID: sessionID})
	case realtime.EventError:
		o.metrics.RelayErrors.WithLabelValues(evt.Code).Inc()
		o.sendError(outbound, sessionID, "upstream_error", "upstream", evt.Retryable, upstreamErrorDetail(evt))
		if evt.Fatal {
			*replyInFlight = false
			_ = o.registry.SetState(sessionID, session.StateError)
			teardown("upstream_fatal")
		}
	}
}

func (o *Orchestrator) handleTranscriptDone(ctx context.Context, sessionID string, evt realtime.Event, outbound chan<- any, tutorAudio *strings.Builder, replyInFlight *bool) {
	text := strings.TrimSpace(evt.Text)
	if text == "" && evt.Role == realtime.RoleLearner {
		return
	}

	if evt.Role == realtime.RoleLearner && *replyInFlight {
		// The tutor is already speaking; this turn is dropped, not queued.
		o.metrics.SessionEvents.WithLabelValues("learner_turn_dropped_inflight").Inc()
		return
	}

	tsMS := evt.Timestamp
	if tsMS == 0 {
		tsMS = time.Now().UnixMilli()
	}
	msg := transcript.Message{Role: transcript.Role(evt.Role), Text: text, TimestampMS: tsMS}
	if evt.Role == realtime.RoleTutor {
		msg.AudioBase64 = tutorAudio.String()
		tutorAudio.Reset()
	}
	if err := o.transcripts.AppendMessage(ctx, sessionID, msg); err != nil {
		o.metrics.SessionEvents.WithLabelValues("transcript_append_failed").Inc()
	}

	o.send(outbound, protocol.TranscriptFinal{
		Type:      protocol.TypeTranscriptFinal,
		SessionID: sessionID,
		Role:      evt.Role,
		Text:      text,
		TSMs:      tsMS,
	})

	if evt.Role == realtime.RoleLearner {
		switch err := o.relay.Generate(ctx, sessionID); err {
		case nil:
			*replyInFlight = true
		case ErrReplyInFlight:
		default:
			o.sendError(outbound, sessionID, "upstream_error", "relay", true, err.Error())
		}
	}
}

// finishSession runs the completion pipeline and reports the summary. The
// explicit-stop path acknowledges even a failed persistence with an error
// event before the completed summary.
func (o *Orchestrator) finishSession(ctx context.Context, sessionID string, outbound chan<- any, explicit bool) {
	s, getErr := o.registry.Get(sessionID)
	var declared time.Duration
	if getErr == nil {
		declared = time.Since(s.CreatedAt)
		_ = o.registry.SetState(sessionID, session.StateDisconnected)
	}

	summary, err := o.completion.Complete(ctx, sessionID, declared)
	if err != nil {
		if err == ErrCompletionInProgress {
			return
		}
		o.sendError(outbound, sessionID, "persistence_failed", "records", true, err.Error())
	}

	// The gauge was incremented when the registry entry was opened; a
	// repeat completion of an already-released session must not move it.
	if getErr == nil {
		o.metrics.ActiveSessions.Dec()
	}
	o.metrics.SessionEvents.WithLabelValues("session_completed").Inc()
	if explicit || err == nil {
		o.send(outbound, protocol.SessionCompleted{
			Type:             protocol.TypeSessionCompleted,
			SessionID:        sessionID,
			Level:            string(summary.Level),
			MeanScore:        summary.MeanScore,
			RecommendedLevel: string(summary.RecommendedLevel),
			FluencyRatio:     summary.FluencyRatio,
			DurationSeconds:  summary.DurationSeconds,
		})
	}
}

// send delivers without ever blocking the dispatcher loop; a full
// outbound channel drops the message and counts it.
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
		o.metrics.WSMessages.WithLabelValues("out", messageType(msg)).Inc()
	default:
		o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}

func (o *Orchestrator) sendError(outbound chan<- any, sessionID, code, source string, retryable bool, detail string) {
	o.send(outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	})
}

func messageType(msg any) string {
	switch m := msg.(type) {
	case protocol.SessionStarted:
		return string(m.Type)
	case protocol.SpeechStarted:
		return string(m.Type)
	case protocol.SpeechStopped:
		return string(m.Type)
	case protocol.TranscriptPartial:
		return string(m.Type)
	case protocol.TranscriptFinal:
		return string(m.Type)
	case protocol.TutorAudioChunk:
		return string(m.Type)
	case protocol.ReplyComplete:
		return string(m.Type)
	case protocol.SessionCompleted:
		return string(m.Type)
	case protocol.ErrorEvent:
		return string(m.Type)
	default:
		return "unknown"
	}
}

func upstreamErrorDetail(evt realtime.Event) string {
	if evt.Detail != "" {
		return evt.Detail
	}
	return evt.Code
}

func tutorInstructions(language string, level cefr.Level, mode session.Mode) string {
	if mode == session.ModePlacementTest {
		return fmt.Sprintf(
			"You are a %s placement examiner. Hold a short spoken conversation, "+
				"gradually increasing difficulty, and finish by telling the learner "+
				"their estimated CEFR level in the form 'your level is B1'.",
			language)
	}
	return fmt.Sprintf(
		"You are a friendly %s tutor. Keep the conversation at CEFR level %s, "+
			"speak only %s, correct serious mistakes briefly, and keep replies short.",
		language, level, language)
}
