// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrel-systems/parley/internal/errs"
	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/tools"
	"github.com/kestrel-systems/parley/internal/transport"
	"github.com/kestrel-systems/parley/internal/wire"
	"github.com/kestrel-systems/parley/pkg/vendorsdk"
)

// Checkpointer is the narrow Session Store seam the runtime needs: commit
// the replay checkpoint once its own persisted publish echoes back, and
// record the vendor-side session id for resume. Satisfied by
// *session.SQLiteStore.
type Checkpointer interface {
	CommitCheckpoint(ctx context.Context, key identity.SessionKey, pubsubID uint64) error
	UpdateSDKSession(ctx context.Context, key identity.SessionKey, handle string) error
}

// Config parameterizes one Agent instance. Every field is passed explicitly
// at construction per §4.7's "never via globals."
type Config struct {
	Channel     identity.ChannelID
	ContextID   identity.ContextID
	IdentityKey identity.IdentityKey
	Handle      identity.Handle
	PanelID     identity.ClientID // the approval gate's escalation target

	Autonomy     tools.AutonomyLevel
	Model        string
	SystemPrompt string

	MissedContextLimit int
	ContextDebounce     time.Duration

	IdleGrace     time.Duration // default 10s, §4.7
	ActivityGrace time.Duration // default 2m, §4.7
	OnIdleUnload  func()        // invoked once when idle-unload fires

	// ToolsFactory builds the Tool Registry and approval Gate once the
	// broker has assigned this agent's own ClientID (admit.go mints a
	// fresh random one per connection; it cannot be known beforehand). Used
	// in place of the toolsReg/gate arguments to New when the caller can't
	// construct them until after admission — the Supervisor's spawn path
	// is the production case. Ignored if toolsReg/gate are already set.
	ToolsFactory func(self identity.ClientID) (*tools.Registry, *tools.Gate)
}

// Agent drives one participant's lifecycle, message queue, and vendor
// binding end to end, per spec.md §4.6.
type Agent struct {
	cfg      Config
	t        transport.Transport
	provider vendorsdk.Provider
	session  vendorsdk.Session
	toolsReg *tools.Registry
	gate     *tools.Gate
	store    Checkpointer
	logger   *zap.Logger

	self   identity.ClientID
	handle identity.Handle
	key    identity.SessionKey

	checkpoint   uint64
	sdkSessionID string
	missed       *missedContextBuilder

	contextTracker *ContextTracker
	queue          *Queue
	wake           chan struct{}

	mu           sync.Mutex
	state        State
	panelAbsentSince time.Time
	lastActivity time.Time

	tokens *tokenEstimator
}

// New constructs an Agent bound to one transport connection. Call Run to
// admit it and begin processing.
func New(cfg Config, t transport.Transport, provider vendorsdk.Provider, toolsReg *tools.Registry, gate *tools.Gate, store Checkpointer, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := cfg.ContextDebounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	a := &Agent{
		cfg:      cfg,
		t:        t,
		provider: provider,
		toolsReg: toolsReg,
		gate:     gate,
		store:    store,
		logger:   logger,
		queue:    NewQueue(),
		wake:     make(chan struct{}, 1),
		state:    StateInitializing,
		tokens:   defaultTokenEstimator(),
	}
	a.contextTracker = NewContextTracker(debounce, a.publishContextUsage, a.warnContextUsage)
	return a
}

// State reports the agent's current lifecycle node.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(to State) {
	a.mu.Lock()
	from := a.state
	if !allowed(from, to) {
		a.mu.Unlock()
		a.logger.Warn("agentrt: rejected state transition",
			zap.String("from", from.String()), zap.String("to", to.String()))
		return
	}
	a.state = to
	a.mu.Unlock()
}

// Run admits the agent onto the broker and processes messages until ctx
// ends or the connection drops.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.connect(ctx); err != nil {
		return err
	}
	a.setState(StateIdle)
	a.touchActivity()

	readerErr := make(chan error, 1)
	go a.readLoop(ctx, readerErr)
	go a.idleWatch(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readerErr:
			return err
		case <-a.wake:
			a.drainQueue(ctx)
		}
	}
}

// drainQueue processes every pending entry currently admitted, one turn at
// a time, stopping early if a pause lands mid-drain.
func (a *Agent) drainQueue(ctx context.Context) {
	for {
		if a.State() == StatePaused {
			return
		}
		in, ok := a.queue.Dequeue()
		if !ok {
			return
		}
		a.setState(StateEnqueued)
		a.setState(StateProcessing)
		if err := a.runTurn(ctx, in); err != nil {
			a.logger.Warn("agentrt: turn ended in error", zap.Error(err))
		}
		a.queue.Done()
		a.touchActivity()
		if a.State() == StatePaused {
			return
		}
		a.setState(StateIdle)
	}
}

// connect sends hello, awaits ready or reject, and starts (or resumes) the
// vendor session.
func (a *Agent) connect(ctx context.Context) error {
	meta := map[string]any{"type": string(identity.ParticipantWorker)}
	hello := wire.HelloFrame{
		ChannelID:   string(a.cfg.Channel),
		ContextID:   string(a.cfg.ContextID),
		Handle:      string(a.cfg.Handle),
		IdentityKey: string(a.cfg.IdentityKey),
		Metadata:    meta,
	}
	env, err := wire.Encode(wire.KindHello, hello)
	if err != nil {
		return err
	}
	if err := a.t.Send(ctx, env); err != nil {
		return err
	}

	reply, err := a.t.Recv(ctx)
	if err != nil {
		return err
	}
	switch reply.Kind {
	case wire.KindReject:
		var rej wire.RejectFrame
		_ = reply.Decode(&rej)
		return fmt.Errorf("agentrt: admission rejected: %s", rej.Reason)
	case wire.KindReady:
		var ready wire.ReadyFrame
		if err := reply.Decode(&ready); err != nil {
			return err
		}
		a.self = identity.ClientID(ready.ClientID)
		a.handle = identity.Handle(ready.AssignedHandle)
		a.key = identity.SessionKey{ChannelID: a.cfg.Channel, IdentityKey: a.cfg.IdentityKey}
		a.missed = newMissedContextBuilder(a.self, a.cfg.MissedContextLimit)
		if a.toolsReg == nil && a.gate == nil && a.cfg.ToolsFactory != nil {
			a.toolsReg, a.gate = a.cfg.ToolsFactory(a.self)
		}
		if ready.ExistingSession != nil {
			a.checkpoint = ready.ExistingSession.Checkpoint
			a.sdkSessionID = ready.ExistingSession.SDKSessionID
		}
	default:
		return fmt.Errorf("agentrt: unexpected frame %s awaiting ready", reply.Kind)
	}

	sess, err := a.provider.StartSession(ctx, vendorsdk.StartOptions{
		Model:        a.cfg.Model,
		SystemPrompt: a.cfg.SystemPrompt,
		ResumeID:     a.sdkSessionID,
	})
	if err != nil && a.sdkSessionID != "" {
		// Vendor rejected the stored handle (expired, unknown to this vendor
		// instance, etc). Fall back to a fresh session rather than failing
		// the connection outright.
		a.sdkSessionID = ""
		sess, err = a.provider.StartSession(ctx, vendorsdk.StartOptions{
			Model:        a.cfg.Model,
			SystemPrompt: a.cfg.SystemPrompt,
		})
	}
	if err != nil {
		return fmt.Errorf("agentrt: start vendor session: %w", err)
	}
	a.session = sess
	if a.store != nil && sess.ID() != a.sdkSessionID {
		_ = a.store.UpdateSDKSession(ctx, a.key, sess.ID())
	}
	return nil
}

// readLoop is the reader half: it never mutates processing state directly,
// only the queue (safe for concurrent Push) and the wake signal.
func (a *Agent) readLoop(ctx context.Context, errCh chan<- error) {
	for {
		env, err := a.t.Recv(ctx)
		if err != nil {
			errCh <- err
			return
		}
		switch env.Kind {
		case wire.KindEvent:
			a.handleEvent(ctx, env)
		case wire.KindRosterUpdate:
			var r wire.RosterUpdateFrame
			if err := env.Decode(&r); err == nil {
				a.handleRoster(r)
			}
		case wire.KindReplayTruncated:
			a.logger.Info("agentrt: replay truncated, missed context will be partial")
		}
	}
}

func (a *Agent) handleEvent(ctx context.Context, env *wire.Envelope) {
	var ev wire.EventFrame
	if err := env.Decode(&ev); err != nil {
		return
	}
	if ev.Kind == wire.EventReplay {
		a.missed.Observe(ev)
		return
	}
	if identity.ClientID(ev.SenderID) == a.self {
		if ev.Persist && a.store != nil {
			_ = a.store.CommitCheckpoint(ctx, a.key, ev.PubsubID)
		}
		return
	}
	if ev.ContentType != wire.ContentMessage {
		return
	}
	var text string
	if err := json.Unmarshal(ev.Content, &text); err != nil || text == "" {
		return
	}
	a.queue.Push(Inbound{ID: fmt.Sprintf("%d", ev.PubsubID), Text: text})
	a.publishTypingPositions()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Agent) handleRoster(r wire.RosterUpdateFrame) {
	panelPresent := false
	for _, p := range r.Participants {
		if t, ok := p.Metadata["type"].(string); ok && identity.ParticipantType(t) == identity.ParticipantPanel {
			panelPresent = true
			break
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if panelPresent {
		a.panelAbsentSince = time.Time{} // a new panel joining cancels any pending unload
	} else if a.panelAbsentSince.IsZero() {
		a.panelAbsentSince = time.Now()
	}
}

func (a *Agent) touchActivity() {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

// idleWatch implements §4.7's idle-unload contract.
func (a *Agent) idleWatch(ctx context.Context) {
	grace := a.cfg.IdleGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	activityGrace := a.cfg.ActivityGrace
	if activityGrace <= 0 {
		activityGrace = 2 * time.Minute
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			absentSince := a.panelAbsentSince
			sinceActivity := time.Since(a.lastActivity)
			isIdle := a.state == StateIdle
			a.mu.Unlock()
			if isIdle && !absentSince.IsZero() &&
				time.Since(absentSince) >= grace && sinceActivity >= activityGrace {
				a.setState(StateSleeping)
				if a.cfg.OnIdleUnload != nil {
					a.cfg.OnIdleUnload()
				}
				return
			}
		}
	}
}

// Pause implements §4.6's pause RPC: abort the in-flight vendor call and
// mark the queue paused without dropping pending items.
func (a *Agent) Pause(ctx context.Context) error {
	a.queue.Pause()
	a.setState(StatePaused)
	if a.session != nil {
		return a.session.Abort(ctx)
	}
	return nil
}

// Resume clears the pause and wakes the processor to replay pending items.
func (a *Agent) Resume() {
	a.queue.Resume()
	a.setState(StateIdle)
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// runTurn drives one queue entry through the vendor SDK, interleaving any
// messages that arrive at the safe splice points between turns.
func (a *Agent) runTurn(ctx context.Context, first Inbound) error {
	text := first.Text
	if pre := a.missed.Take(); pre != "" {
		text = pre + text
	}

	events, err := a.session.Prompt(ctx, text, first.Images)
	if err != nil {
		return fmt.Errorf("agentrt: prompt: %w", err)
	}
	reply, turnErr := a.consumeTurn(ctx, text, events)

	for turnErr == nil {
		batch := a.queue.DrainInterleave()
		if len(batch) == 0 {
			break
		}
		joinedText, joinedImages := joinBatch(batch)
		followEvents, ferr := a.session.FollowUp(ctx, joinedText, joinedImages)
		if ferr != nil {
			// Edge case §4.6: interleave declined mid-session — re-push to
			// the head of pending and let the next ordinary turn retry it.
			a.queue.Requeue(batch)
			break
		}
		reply, turnErr = a.consumeTurn(ctx, joinedText, followEvents)
	}

	if turnErr == nil && strings.TrimSpace(reply) == "" {
		// §4.6 edge case: no silent success when the vendor returns no text.
		a.publishMessage("(no response was produced for this turn)", true)
	}
	return turnErr
}

func joinBatch(batch []Inbound) (string, []vendorsdk.Image) {
	texts := make([]string, len(batch))
	var images []vendorsdk.Image
	for i, in := range batch {
		texts[i] = in.Text
		images = append(images, in.Images...)
	}
	return strings.Join(texts, "\n"), images
}

// consumeTurn maps the vendor event stream to tracker lifecycle calls and
// tool invocations, returning the assembled reply text. promptText is the
// outbound text for this turn, used to estimate token usage when the
// vendor's turn_end event doesn't report it.
func (a *Agent) consumeTurn(ctx context.Context, promptText string, events <-chan vendorsdk.Event) (string, error) {
	var text strings.Builder
	var thinking *Tracker

	endThinking := func() {
		if thinking != nil {
			thinking.End()
			thinking = nil
		}
	}
	defer endThinking()

	for ev := range events {
		switch ev.Kind {
		case vendorsdk.EventTextDelta:
			text.WriteString(ev.TextDelta)
		case vendorsdk.EventTextEnd:
			if text.Len() > 0 {
				a.publishMessage(text.String(), true)
			}
		case vendorsdk.EventThinkingDelta:
			if thinking == nil {
				thinking = NewTracker(contentThinking, a.publishEphemeral)
				thinking.Start(nil)
			}
			thinking.Update(map[string]any{"delta": ev.ThinkingDelta})
		case vendorsdk.EventToolStart:
			endThinking()
			a.handleToolStart(ctx, ev)
		case vendorsdk.EventToolEnd:
			// Submitted synchronously from handleToolStart; nothing to do.
		case vendorsdk.EventTurnEnd:
			endThinking()
			if ev.Usage != nil {
				a.contextTracker.Record(ev.Usage.InputTokens, ev.Usage.OutputTokens, ev.Usage.ContextWindowTokens)
			} else {
				a.contextTracker.Record(a.tokens.count(promptText), a.tokens.count(text.String()), 0)
			}
			return text.String(), nil
		case vendorsdk.EventError:
			endThinking()
			if ev.ErrReason == "aborted" {
				return text.String(), nil
			}
			a.publishMessage("Error: "+ev.ErrReason, true)
			return text.String(), &errs.VendorError{Reason: ev.ErrReason}
		}
	}
	return text.String(), nil
}

// handleToolStart consults the approval gate, invokes the tool through the
// registry, and always resolves the vendor's tool-result channel — even on
// denial or execution failure, per §4.6's "reported back to the model as an
// error tool-result, not as a crash."
func (a *Agent) handleToolStart(ctx context.Context, ev vendorsdk.Event) {
	action := NewTracker(contentAction, a.publishEphemeral)
	action.Start(map[string]any{"type": ev.ToolName, "call_id": ev.ToolCallID})
	defer action.End()

	canonical := tools.CanonicalName(ev.ToolName)

	if a.gate != nil {
		if err := a.gate.Check(ctx, canonical, ev.ToolArgs); err != nil {
			a.failTool(ctx, ev.ToolCallID, err)
			return
		}
	}
	if a.toolsReg == nil {
		a.failTool(ctx, ev.ToolCallID, fmt.Errorf("agentrt: no tool registry configured"))
		return
	}

	result, err := a.toolsReg.Invoke(ctx, canonical, ev.ToolArgs, func(progress json.RawMessage) {
		action.Update(map[string]any{"progress": json.RawMessage(progress)})
	})
	if err != nil {
		a.failTool(ctx, ev.ToolCallID, err)
		return
	}
	_ = a.session.SubmitToolResult(ctx, vendorsdk.ToolResult{CallID: ev.ToolCallID, Content: string(result)})
}

func (a *Agent) failTool(ctx context.Context, callID string, err error) {
	_ = a.session.SubmitToolResult(ctx, vendorsdk.ToolResult{
		CallID:  callID,
		Content: "Error: " + err.Error(),
		IsError: true,
	})
}

func (a *Agent) publishMessage(text string, persist bool) {
	content, err := json.Marshal(text)
	if err != nil {
		return
	}
	env, err := wire.Encode(wire.KindPublish, wire.PublishFrame{
		Content:     content,
		ContentType: wire.ContentMessage,
		Persist:     persist,
	})
	if err != nil {
		return
	}
	_ = a.t.Send(context.Background(), env)
}

func (a *Agent) publishEphemeral(contentType wire.ContentType, fields map[string]any) {
	content, err := json.Marshal(fields)
	if err != nil {
		return
	}
	env, err := wire.Encode(wire.KindPublish, wire.PublishFrame{
		Content:     content,
		ContentType: contentType,
		Persist:     false,
	})
	if err != nil {
		return
	}
	_ = a.t.Send(context.Background(), env)
}

func (a *Agent) publishTypingPositions() {
	positions := a.queue.Positions()
	if len(positions) == 0 {
		return
	}
	a.publishEphemeral(wire.ContentTyping, map[string]any{"positions": positions})
}

func (a *Agent) publishContextUsage(fraction float64, totalTokens int) {
	env, err := wire.Encode(wire.KindUpdateMetadata, wire.UpdateMetadataFrame{
		Metadata: map[string]any{"contextUsage": fraction, "totalTokens": totalTokens},
	})
	if err != nil {
		return
	}
	_ = a.t.Send(context.Background(), env)
}

func (a *Agent) warnContextUsage(fraction float64) {
	a.logger.Warn("agentrt: context window usage crossed warning threshold",
		zap.Float64("fraction", fraction))
	a.publishEphemeral(wire.ContentTyping, map[string]any{
		"warning": fmt.Sprintf("context usage at %.0f%% of window", fraction*100),
	})
}
