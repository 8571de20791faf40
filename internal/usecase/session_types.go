package usecase

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lookingglass/internal/domain"
)

// playbackSession spans one selection, from SELECT_EVENT until the next
// selection or CLOSE. Replays and deep dives stay inside it.
type playbackSession struct {
	selectionID string
	eventID     string
	span        trace.Span
}

func startPlaybackSession(ctx context.Context, tracer trace.Tracer, pctx domain.PlaybackContext, branch domain.Branch) *playbackSession {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := tracer.Start(ctx, "reflection.playback",
		trace.WithAttributes(
			attribute.String("reflection.selection_id", pctx.SelectionID),
			attribute.String("reflection.event_id", pctx.EventID()),
			attribute.String("reflection.branch", string(branch)),
		),
	)
	return &playbackSession{
		selectionID: pctx.SelectionID,
		eventID:     pctx.EventID(),
		span:        span,
	}
}

func (s *playbackSession) recordTransition(t domain.Transition) {
	if s == nil {
		return
	}
	s.span.AddEvent("transition", trace.WithAttributes(
		attribute.String("from", string(t.From)),
		attribute.String("to", string(t.To)),
		attribute.String("trigger", string(t.Trigger)),
		attribute.Int64("token", t.Token),
	))
}

func (s *playbackSession) end() {
	if s == nil {
		return
	}
	s.span.End()
}
