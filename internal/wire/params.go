package wire

import "encoding/json"

// RegistrationParams is the payload of starlight.registration.
type RegistrationParams struct {
	Layer        string   `json:"layer"`
	Priority     int      `json:"priority"`
	Selectors    []string `json:"selectors,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Version      string   `json:"version"`
	AuthToken    string   `json:"authToken,omitempty"`
}

// RegistrationResult is returned in the Frame's Result for a registration request.
type RegistrationResult struct {
	AssignedID string `json:"assignedId"`
	Challenge  string `json:"challenge"`
}

// ChallengeResponseParams is the payload of starlight.challenge_response.
type ChallengeResponseParams struct {
	Response string `json:"response"`
}

// PulseParams is the payload of starlight.pulse.
type PulseParams struct {
	Layer     string          `json:"layer"`
	Entropy   *bool           `json:"entropy,omitempty"`
	Health    map[string]any  `json:"health,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ClearParams is the payload of starlight.clear.
type ClearParams struct {
	Confidence float64 `json:"confidence,omitempty"`
}

// WaitParams is the payload of starlight.wait.
type WaitParams struct {
	RetryAfterMs int64   `json:"retryAfterMs,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// HijackParams is the payload of starlight.hijack.
type HijackParams struct {
	Reason string `json:"reason"`
}

// ResumeParams is the payload of starlight.resume.
type ResumeParams struct {
	ReCheck bool `json:"re_check"`
}

// ActionParams is the payload of starlight.action. Action is one of:
// goto, click, fill, select, hover, check, uncheck, scroll, press,
// type, upload, evaluate, dispatch_event, get_page_text, get_url,
// get_cookies, set_cookies, get_storage, set_storage, screenshot.
type ActionParams struct {
	Action   string   `json:"action"`
	Selector string   `json:"selector,omitempty"`
	Text     string   `json:"text,omitempty"`
	Value    string   `json:"value,omitempty"`
	Key      string   `json:"key,omitempty"`
	Files    []string `json:"files,omitempty"`
}

// ContextUpdateParams is the payload of starlight.context_update.
type ContextUpdateParams struct {
	Context map[string]any `json:"context"`
}

// SidetalkParams is the payload of starlight.sidetalk.
type SidetalkParams struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Topic    string `json:"topic"`
	Payload  any    `json:"payload"`
	ReplyTo  string `json:"replyTo,omitempty"`
}

// SidetalkAckParams is the payload of starlight.sidetalk_ack.
type SidetalkAckParams struct {
	Status           string   `json:"status"`
	AvailableLayers  []string `json:"availableLayers,omitempty"`
	ReplyTo          string   `json:"replyTo,omitempty"`
}

// PreCheckParams is the payload of starlight.pre_check (Hub → Sentinel).
type PreCheckParams struct {
	Command        CommandDescriptor `json:"command"`
	URL            string            `json:"url"`
	Blocking       []Rect            `json:"blocking,omitempty"`
	TargetRect     *Rect             `json:"targetRect,omitempty"`
	Viewport       *Viewport         `json:"viewport,omitempty"`
	Screenshot     string            `json:"screenshot,omitempty"`
	PageText       string            `json:"page_text,omitempty"`
	A11ySnapshot   json.RawMessage   `json:"a11y_snapshot,omitempty"`
	StabilityHintMs int64            `json:"stabilityHint,omitempty"`
}

// CommandDescriptor identifies the command a pre-check, action or
// completion event refers to.
type CommandDescriptor struct {
	ID     int64  `json:"id"`
	Kind   string `json:"cmd"`
	Params any    `json:"params,omitempty"`
	Target string `json:"target,omitempty"`
}

// Rect is a DOM bounding rectangle, used both standalone and nested in
// blocking-element reports.
type Rect struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Selector  string  `json:"selector,omitempty"`
	ClassName string  `json:"className,omitempty"`
	ElementID string  `json:"id,omitempty"`
}

// Viewport is the browser viewport size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EntropyStreamParams is the payload of starlight.entropy_stream.
type EntropyStreamParams struct {
	Entropy    bool   `json:"entropy"`
	Navigation bool   `json:"navigation,omitempty"`
	Viewport   *Viewport `json:"viewport,omitempty"`
}

// SovereignUpdateParams is the payload of starlight.sovereign_update.
type SovereignUpdateParams struct {
	From    string         `json:"from,omitempty"`
	Context map[string]any `json:"context"`
}

// IntentParams is the payload of starlight.intent, submitted by an
// Intent Client to ask the Orchestrator to run one command.
type IntentParams struct {
	Kind            string    `json:"cmd"`
	Action          ActionParams `json:"params,omitempty"`
	TargetHint      string    `json:"target,omitempty"`
	URL             string    `json:"url,omitempty"`
	StabilityHintMs int64     `json:"stabilityHint,omitempty"`
	PageText        string    `json:"page_text,omitempty"`
	Screenshot      string    `json:"screenshot,omitempty"`
	Viewport        *Viewport `json:"viewport,omitempty"`
}

// IntentResult is returned in the Frame's Result for a starlight.intent
// request - the command's terminal outcome plus its vote ledger.
type IntentResult struct {
	CommandID int64          `json:"commandId"`
	Kind      string         `json:"cmd"`
	State     string         `json:"state"`
	Success   bool           `json:"success"`
	ErrorKind string         `json:"errorKind,omitempty"`
	Retries   int            `json:"retries"`
	Ledger    []VoteLedgerEntry `json:"ledger,omitempty"`
}

// VoteLedgerEntry is one Sentinel's vote on a completed command,
// echoed back to the Intent Client for diagnostics.
type VoteLedgerEntry struct {
	Layer      string  `json:"layer"`
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence,omitempty"`
}

// CommandCompleteParams reports the outcome of a dispatched command or a
// hijack action back to Sentinels.
type CommandCompleteParams struct {
	CommandID  int64  `json:"commandId"`
	Success    bool   `json:"success"`
	ErrorKind  string `json:"errorKind,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
}
