package session

type ActionKind int

const (
	ActionNoOp ActionKind = iota
	ActionPromptForInput
	ActionShowMessage
	ActionSessionStarting
)

func (k ActionKind) String() string {
	switch k {
	case ActionNoOp:
		return "noop"
	case ActionPromptForInput:
		return "prompt"
	case ActionShowMessage:
		return "message"
	case ActionSessionStarting:
		return "session_starting"
	default:
		return "unknown"
	}
}

// Action is what the caller must do after one Advance.
type Action struct {
	Kind    ActionKind
	Prompt  string
	Secret  bool
	Message string
}

func NoOp() Action {
	return Action{Kind: ActionNoOp}
}

func PromptForInput(prompt string, secret bool) Action {
	return Action{Kind: ActionPromptForInput, Prompt: prompt, Secret: secret}
}

func ShowMessage(message string) Action {
	return Action{Kind: ActionShowMessage, Message: message}
}

func SessionStarting() Action {
	return Action{Kind: ActionSessionStarting}
}
