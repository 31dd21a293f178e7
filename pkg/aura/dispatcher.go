package aura

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/auralink/aura/pkg/errorsx"
	"github.com/auralink/aura/pkg/frames"
	"github.com/auralink/aura/pkg/resilience"
)

// Action is a recognized tool-call action. Media actions drive whatever is
// playing on the device; execute actions open or search for content.
type Action string

const (
	ActionPlay     Action = "play"
	ActionPause    Action = "pause"
	ActionStop     Action = "stop"
	ActionResume   Action = "resume"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionSeek     Action = "seek"

	ActionOpen   Action = "open"
	ActionSearch Action = "search"
	ActionLaunch Action = "launch"
)

var knownActions = map[Action]bool{
	ActionPlay: true, ActionPause: true, ActionStop: true, ActionResume: true,
	ActionNext: true, ActionPrevious: true, ActionSeek: true,
	ActionOpen: true, ActionSearch: true, ActionLaunch: true,
}

func parseAction(name string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(name)))
	return a, knownActions[a]
}

// ActionExecutor performs local, fire-and-forget device effects.
type ActionExecutor interface {
	ExecuteAction(action Action, query string)
}

// CommandRelay forwards actions to a paired device when the session is
// proxied. Delivery is acknowledged but effects are not.
type CommandRelay interface {
	SendCommand(action Action, query string) (delivered bool, err error)
}

var ErrRelayTimeout = errors.New("command relay timeout")

// ToolDispatcher routes tool-call requests arriving mid-session and returns
// exactly one structured result per call identifier over the channel. Failed
// or unknown actions still get a best-effort result so the remote service is
// never left waiting.
type ToolDispatcher struct {
	executor ActionExecutor
	relay    CommandRelay
	send     func(frames.Frame) error
	opts     ToolDispatcherOptions
	tasks    chan map[string]string
	log      *slog.Logger

	mu        sync.Mutex
	closed    bool
	completed map[string]bool
}

type ToolDispatcherOptions struct {
	Concurrency int
	Timeout     time.Duration
	// Proxied routes recognized actions to the CommandRelay instead of the
	// local ActionExecutor.
	Proxied bool
	// RelayRetries > 0 retries failed relay deliveries with a fixed backoff.
	RelayRetries int
	RelayBackoff time.Duration
}

func NewToolDispatcher(executor ActionExecutor, relay CommandRelay, send func(frames.Frame) error, opts ToolDispatcherOptions) *ToolDispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	d := &ToolDispatcher{
		executor:  executor,
		relay:     relay,
		send:      send,
		opts:      opts,
		tasks:     make(chan map[string]string, 64),
		log:       slog.Default().With("component", "tool_dispatcher"),
		completed: make(map[string]bool),
	}
	for i := 0; i < opts.Concurrency; i++ {
		go d.worker()
	}
	return d
}

// Dispatch queues one tool-call request, described by its frame meta. When
// the queue is full the request is answered inline with an error status
// rather than dropped; a call left without a result stalls the remote
// service's turn.
func (d *ToolDispatcher) Dispatch(meta map[string]string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	select {
	case d.tasks <- meta:
		d.mu.Unlock()
		return
	default:
	}
	callID := meta[frames.MetaToolCallID]
	if callID == "" || d.completed[callID] {
		d.mu.Unlock()
		return
	}
	d.completed[callID] = true
	d.mu.Unlock()

	d.log.Warn("tool_dispatcher_queue_full", "tool_name", meta[frames.MetaToolName])
	d.sendResult(meta, "error", errors.New("dispatcher queue full"))
}

// ResetTurn forgets completed call identifiers; invoked at turn completion so
// the dedupe set does not grow without bound.
func (d *ToolDispatcher) ResetTurn() {
	d.mu.Lock()
	d.completed = make(map[string]bool)
	d.mu.Unlock()
}

// Close stops the workers. Queued tasks are abandoned.
func (d *ToolDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.tasks)
}

func (d *ToolDispatcher) worker() {
	for meta := range d.tasks {
		d.exec(meta)
	}
}

func (d *ToolDispatcher) exec(meta map[string]string) {
	callID := meta[frames.MetaToolCallID]
	name := meta[frames.MetaToolName]
	if callID == "" || name == "" {
		return
	}

	d.mu.Lock()
	if d.completed[callID] {
		d.mu.Unlock()
		return
	}
	d.completed[callID] = true
	d.mu.Unlock()

	query := extractQuery(meta[frames.MetaToolArgs])

	status := "ok"
	var execErr error
	action, recognized := parseAction(name)
	switch {
	case !recognized:
		status = "error"
		execErr = errors.New("unknown action: " + name)
	case d.opts.Proxied && d.relay != nil:
		delivered, err := d.relayDeliver(action, query)
		if err != nil {
			status = "error"
			if errors.Is(err, ErrRelayTimeout) {
				status = "timeout"
			}
			execErr = errorsx.Wrap(err, errorsx.ReasonToolExec)
		} else if !delivered {
			status = "undelivered"
		}
	default:
		if d.executor != nil {
			d.executor.ExecuteAction(action, query)
		}
	}

	d.sendResult(meta, status, execErr)
}

// sendResult emits the single tool_result frame for a call.
func (d *ToolDispatcher) sendResult(meta map[string]string, status string, execErr error) {
	callID := meta[frames.MetaToolCallID]
	name := meta[frames.MetaToolName]

	payload := map[string]string{"status": status}
	if execErr != nil {
		payload["error"] = execErr.Error()
	}
	resultJSON, _ := json.Marshal(payload)

	outMeta := map[string]string{
		frames.MetaToolCallID: callID,
		frames.MetaToolName:   name,
		frames.MetaToolStatus: status,
		frames.MetaToolResult: string(resultJSON),
	}
	if execErr != nil {
		outMeta[frames.MetaToolError] = execErr.Error()
		d.log.Warn("tool_call_failed", "tool_name", name, "status", status, "error", execErr.Error())
	}
	if traceID := meta[frames.MetaTraceID]; traceID != "" {
		outMeta[frames.MetaTraceID] = traceID
	}

	sessionID := meta[frames.MetaSessionID]
	sf := frames.NewSystemFrame(sessionID, time.Now().UnixNano(), frames.SystemToolResult, outMeta)
	if err := d.send(sf); err != nil {
		// The channel is going down; the session lifecycle owns that.
		d.log.Debug("tool_result_send_failed", "error", err.Error())
	}
}

func (d *ToolDispatcher) relayDeliver(action Action, query string) (bool, error) {
	if d.opts.RelayRetries <= 0 {
		return d.relayWithTimeout(action, query)
	}
	policy := resilience.NewRetryPolicy(d.opts.RelayRetries, d.opts.RelayBackoff)
	var delivered bool
	err := policy.Do(func() error {
		var callErr error
		delivered, callErr = d.relayWithTimeout(action, query)
		return callErr
	})
	return delivered, err
}

func (d *ToolDispatcher) relayWithTimeout(action Action, query string) (bool, error) {
	if d.opts.Timeout <= 0 {
		return d.relay.SendCommand(action, query)
	}
	type result struct {
		delivered bool
		err       error
	}
	ch := make(chan result, 1)
	go func() {
		delivered, err := d.relay.SendCommand(action, query)
		ch <- result{delivered: delivered, err: err}
	}()
	select {
	case out := <-ch:
		return out.delivered, out.err
	case <-time.After(d.opts.Timeout):
		return false, ErrRelayTimeout
	}
}

// extractQuery pulls the query argument out of the raw JSON argument blob.
// Arguments that fail to parse degrade to an empty query rather than an
// error; the action itself is still meaningful.
func extractQuery(raw string) string {
	if raw == "" {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return ""
	}
	if q, ok := args["query"].(string); ok {
		return q
	}
	return ""
}
