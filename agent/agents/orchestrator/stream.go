package orchestrator

import (
	"context"
	"strings"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	nodex "github.com/tanpawarit/chative-router/agent/nodes/orchestrator"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

// Stream is one streamed answer. Frames arrive in generation order: one
// start, zero or more chunks, then exactly one end or error. The channel is
// closed after the terminal frame, or early when the stream is closed.
type Stream struct {
	frames <-chan contractx.Frame
	done   <-chan struct{}
	cancel context.CancelFunc
}

func (s *Stream) Frames() <-chan contractx.Frame {
	return s.frames
}

// Close abandons the stream without blocking. Content produced so far is
// still persisted in the background.
func (s *Stream) Close() {
	s.cancel()
}

// Done is closed once the producer has finished, including persistence of
// an abandoned stream's partial answer when persistence runs inline.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// HandleStreaming validates the request and starts a producer. Validation
// errors are returned directly; later failures become an error frame.
func (o *Orchestrator) HandleStreaming(ctx context.Context, req contractx.Request) (*Stream, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	in, err := nodex.ValidateRequest(req, o.registry, o.newID, o.now)
	if err != nil {
		return nil, err
	}

	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		return nil, contractx.ErrNotInitialized
	}
	o.streams.Add(1)
	o.mu.RUnlock()

	ctx, cancel := context.WithCancel(logx.WithSession(ctx, in.SessionID, in.MessageID))
	frames := make(chan contractx.Frame, o.cfg.StreamBuffer)
	done := make(chan struct{})

	go func() {
		defer o.streams.Done()
		defer close(done)
		defer close(frames)
		defer cancel()
		o.produce(ctx, in, frames)
	}()

	return &Stream{frames: frames, done: done, cancel: cancel}, nil
}

func (o *Orchestrator) produce(ctx context.Context, in *nodex.GraphState, frames chan<- contractx.Frame) {
	send := func(f contractx.Frame) error {
		f.SessionID = in.SessionID
		f.MessageID = in.MessageID
		f.Timestamp = o.now().UTC()
		select {
		case frames <- f:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := send(contractx.Frame{Type: contractx.FrameStart}); err != nil {
		return
	}

	in, _ = nodex.LoadSession(ctx, in, o.memory, o.cfg.HistoryWindow)
	in, _ = nodex.ClassifyIntent(ctx, in, o.classifier, o.registry, o.catalog, o.cfg.ClassifyTimeout)
	handler := nodex.PickHandler(in, o.registry, o.main)
	in.Phase = nodex.PhaseResponding

	chunkMeta := map[string]any{"intent_analysis": in.Metadata["intent_analysis"]}
	var partial strings.Builder
	emit := func(chunk string) error {
		partial.WriteString(chunk)
		return send(contractx.Frame{
			Type:      contractx.FrameChunk,
			Content:   chunk,
			AgentUsed: handler.Name(),
			Metadata:  chunkMeta,
		})
	}

	callCtx, cancelCall := context.WithTimeout(ctx, o.cfg.RespondTimeout)
	resp, err := handler.ProcessStream(callCtx, nodex.BuildSpecialistRequest(in), emit)
	err = nodex.WithDeadline(callCtx, err)
	cancelCall()

	switch {
	case ctx.Err() != nil:
		// The consumer is gone. Keep what was produced.
		in.AgentUsed = handler.Name()
		in.Content = partial.String()
		in.Metadata["stream_cancelled"] = true
		logx.Ctx(ctx).Info().Int("partial_bytes", partial.Len()).Msg("stream abandoned by consumer")
		o.finalize(ctx, in)

	case err != nil:
		nodex.ApplyFailure(ctx, in, handler.Name(), err)
		if partial.Len() > 0 {
			in.Content = partial.String()
		}
		o.finalize(ctx, in)
		_ = send(contractx.Frame{Type: contractx.FrameError, Error: err.Error()})

	default:
		nodex.ApplyResponse(in, handler.Name(), resp)
		out := o.finalize(ctx, in)
		_ = send(contractx.Frame{
			Type:      contractx.FrameEnd,
			AgentUsed: out.Response.AgentUsed,
			Metadata: map[string]any{
				"tools_used": out.Response.ToolsUsed,
			},
		})
	}
}

func (o *Orchestrator) finalize(ctx context.Context, in *nodex.GraphState) nodex.GraphOutput {
	out, err := nodex.FinalizeTurn(in, o.newID, o.now)
	if err != nil {
		logx.Ctx(ctx).Error().Err(err).Msg("finalize stream turn")
		return out
	}
	o.persister.submit(context.WithoutCancel(ctx), out.Turn, out.Session)
	return out
}
