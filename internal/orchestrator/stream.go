package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"cortex-router/internal/models"
)

// EventType names one kind of stream event.
type EventType string

const (
	EventStart         EventType = "start"
	EventLine          EventType = "line"
	EventResponseStart EventType = "response_start"
	EventResponseDone  EventType = "response_done"
	EventError         EventType = "error"
	EventDone          EventType = "done"
)

// Event is one self-describing record in a progress stream. Index ties
// multi-target events back to the target's position in the original request
// list, since completion order and request order differ.
type Event struct {
	Type      EventType                    `json:"type"`
	Index     int                          `json:"index"`
	Provider  string                       `json:"provider,omitempty"`
	Model     string                       `json:"model,omitempty"`
	Content   string                       `json:"content,omitempty"`
	Response  *models.UnifiedResponse      `json:"response,omitempty"`
	Aggregate *models.MultiUnifiedResponse `json:"aggregate,omitempty"`
	Error     *models.NormalizedError      `json:"error,omitempty"`
}

// AskStream dispatches a single-target ask and emits its progress as an
// ordered event sequence: start, zero or more lines, response_done, done. A
// failed call emits a single error event and the stream ends there. The
// channel is closed when the stream terminates or the context is cancelled,
// so any transport can consume it.
func (o *Orchestrator) AskStream(ctx context.Context, req AskRequest) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		providerName, model := o.resolveAsk(req)
		req.Provider, req.Model = providerName, model

		if !emit(ctx, events, Event{Type: EventStart, Provider: providerName, Model: model}) {
			return
		}

		resp := o.Ask(ctx, req)
		if resp.IsError() {
			emit(ctx, events, Event{Type: EventError, Error: resp.Error, Response: resp})
			return
		}

		if !o.emitLines(ctx, events, 0, resp.Text) {
			return
		}
		if !emit(ctx, events, Event{Type: EventResponseDone, Response: resp}) {
			return
		}
		emit(ctx, events, Event{Type: EventDone})
	}()

	return events
}

// CompareStream fans out like Compare but emits per-target events as each
// target resolves, interleaved by completion order with index tags. The final
// done event carries the full aggregate, computed exactly as Compare does.
func (o *Orchestrator) CompareStream(ctx context.Context, req CompareRequest) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		if !emit(ctx, events, Event{Type: EventStart}) {
			return
		}

		// Buffered to the target count so workers never block on a
		// consumer that has gone away.
		resolved := make(chan indexedResponse, len(req.Targets))
		for i, target := range req.Targets {
			go func(idx int, target models.CompareTarget) {
				resolved <- indexedResponse{index: idx, response: o.runTarget(ctx, target, req)}
			}(i, target)
		}

		groupID := uuid.NewString()
		responses := make([]models.UnifiedResponse, len(req.Targets))

		for range req.Targets {
			var next indexedResponse
			select {
			case next = <-resolved:
			case <-ctx.Done():
				return
			}

			resp := next.response
			responses[next.index] = *resp

			if !emit(ctx, events, Event{
				Type:     EventResponseStart,
				Index:    next.index,
				Provider: resp.Provider,
				Model:    resp.Model,
			}) {
				return
			}
			if !resp.IsError() {
				if !o.emitLines(ctx, events, next.index, resp.Text) {
					return
				}
			}
			if !emit(ctx, events, Event{Type: EventResponseDone, Index: next.index, Response: resp}) {
				return
			}
		}

		emit(ctx, events, Event{
			Type:      EventDone,
			Aggregate: models.NewMultiUnifiedResponse(groupID, responses),
		})
	}()

	return events
}

// emitLines chunks response text into display-sized line events, pacing them
// with the configured delay.
func (o *Orchestrator) emitLines(ctx context.Context, events chan<- Event, index int, text string) bool {
	for i, line := range splitDisplayLines(text, o.opts.ChunkSize) {
		if i > 0 && o.opts.LineDelay > 0 {
			select {
			case <-time.After(o.opts.LineDelay):
			case <-ctx.Done():
				return false
			}
		}
		if !emit(ctx, events, Event{Type: EventLine, Index: index, Content: line}) {
			return false
		}
	}
	return true
}

// splitDisplayLines breaks text for incremental delivery: naturally multi-line
// text splits on line boundaries with terminators preserved, while one long
// unbroken block is chunked at chunkSize runes so no single event balloons.
func splitDisplayLines(text string, chunkSize int) []string {
	if text == "" {
		return nil
	}

	if strings.Contains(text, "\n") {
		lines := strings.SplitAfter(text, "\n")
		if lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		return lines
	}

	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+chunkSize-1)/chunkSize)
	for start := 0; start < len(runes); start += chunkSize {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// emit delivers one event unless the consumer's context has ended.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
