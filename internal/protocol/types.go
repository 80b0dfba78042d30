package protocol

import (
	"encoding/json"
	"fmt"
)

type RequestType string

const (
	RequestCreateSession           RequestType = "create_session"
	RequestPostAuthMessageResponse RequestType = "post_auth_message_response"
	RequestStartSession            RequestType = "start_session"
	RequestCancelSession           RequestType = "cancel_session"
)

type ResponseType string

const (
	ResponseSuccess     ResponseType = "success"
	ResponseError       ResponseType = "error"
	ResponseAuthMessage ResponseType = "auth_message"
)

// AuthMessageType tells the greeter how to treat an auth_message prompt.
type AuthMessageType string

const (
	AuthMessageVisible AuthMessageType = "visible"
	AuthMessageSecret  AuthMessageType = "secret"
	AuthMessageInfo    AuthMessageType = "info"
	AuthMessageError   AuthMessageType = "error"
)

func (t AuthMessageType) Valid() bool {
	switch t {
	case AuthMessageVisible, AuthMessageSecret, AuthMessageInfo, AuthMessageError:
		return true
	}
	return false
}

// ErrorType separates rejected credentials from other broker failures.
type ErrorType string

const (
	ErrorTypeAuth  ErrorType = "auth_error"
	ErrorTypeError ErrorType = "error"
)

func (t ErrorType) Valid() bool {
	return t == ErrorTypeAuth || t == ErrorTypeError
}

// Request is one greeter->broker message. Only the fields of Type are meaningful.
type Request struct {
	Type     RequestType
	Username string
	Response *string
	Cmd      []string
	Env      []string
}

func CreateSession(username string) Request {
	return Request{Type: RequestCreateSession, Username: username}
}

// PostAuthMessageResponse answers the last auth_message. A nil response is sent as null.
func PostAuthMessageResponse(response *string) Request {
	return Request{Type: RequestPostAuthMessageResponse, Response: response}
}

// StartSession normalizes nil slices to empty ones, matching their wire form.
func StartSession(cmd, env []string) Request {
	return Request{Type: RequestStartSession, Cmd: nonNil(cmd), Env: nonNil(env)}
}

func CancelSession() Request {
	return Request{Type: RequestCancelSession}
}

func (r Request) Validate() error {
	switch r.Type {
	case RequestCreateSession, RequestPostAuthMessageResponse, RequestStartSession, RequestCancelSession:
		return nil
	}
	return fmt.Errorf("%w: request %q", ErrUnknownType, r.Type)
}

type wireTag struct {
	Type string `json:"type"`
}

type wireCreateSession struct {
	Type     RequestType `json:"type"`
	Username string      `json:"username"`
}

type wirePostAuthMessageResponse struct {
	Type     RequestType `json:"type"`
	Response *string     `json:"response"`
}

type wireStartSession struct {
	Type RequestType `json:"type"`
	Cmd  []string    `json:"cmd"`
	Env  []string    `json:"env"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case RequestCreateSession:
		return json.Marshal(wireCreateSession{Type: r.Type, Username: r.Username})
	case RequestPostAuthMessageResponse:
		return json.Marshal(wirePostAuthMessageResponse{Type: r.Type, Response: r.Response})
	case RequestStartSession:
		// Hand-built values may still carry nil slices.
		return json.Marshal(wireStartSession{Type: r.Type, Cmd: nonNil(r.Cmd), Env: nonNil(r.Env)})
	case RequestCancelSession:
		return json.Marshal(wireTag{Type: string(r.Type)})
	}
	return nil, fmt.Errorf("%w: request %q", ErrUnknownType, r.Type)
}

type rawRequest struct {
	Type     RequestType `json:"type"`
	Username *string     `json:"username"`
	Response *string     `json:"response"`
	Cmd      *[]string   `json:"cmd"`
	Env      []string    `json:"env"`
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var raw rawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case RequestCreateSession:
		if raw.Username == nil {
			return fmt.Errorf("%w: create_session.username", ErrMissingField)
		}
		*r = CreateSession(*raw.Username)
	case RequestPostAuthMessageResponse:
		*r = PostAuthMessageResponse(raw.Response)
	case RequestStartSession:
		if raw.Cmd == nil {
			return fmt.Errorf("%w: start_session.cmd", ErrMissingField)
		}
		*r = StartSession(*raw.Cmd, raw.Env)
	case RequestCancelSession:
		*r = CancelSession()
	default:
		return fmt.Errorf("%w: request %q", ErrUnknownType, raw.Type)
	}
	return nil
}

// Response is one broker->greeter message. Only the fields of Type are meaningful.
type Response struct {
	Type            ResponseType
	AuthMessageType AuthMessageType
	AuthMessage     string
	ErrorType       ErrorType
	Description     string
}

func Success() Response {
	return Response{Type: ResponseSuccess}
}

func Error(errorType ErrorType, description string) Response {
	return Response{Type: ResponseError, ErrorType: errorType, Description: description}
}

func AuthMessage(messageType AuthMessageType, message string) Response {
	return Response{Type: ResponseAuthMessage, AuthMessageType: messageType, AuthMessage: message}
}

func (r Response) Validate() error {
	switch r.Type {
	case ResponseSuccess:
		return nil
	case ResponseError:
		if !r.ErrorType.Valid() {
			return fmt.Errorf("%w: error_type %q", ErrInvalidEnum, r.ErrorType)
		}
		return nil
	case ResponseAuthMessage:
		if !r.AuthMessageType.Valid() {
			return fmt.Errorf("%w: auth_message_type %q", ErrInvalidEnum, r.AuthMessageType)
		}
		return nil
	}
	return fmt.Errorf("%w: response %q", ErrUnknownType, r.Type)
}

type wireError struct {
	Type        ResponseType `json:"type"`
	ErrorType   ErrorType    `json:"error_type"`
	Description string       `json:"description"`
}

type wireAuthMessage struct {
	Type            ResponseType    `json:"type"`
	AuthMessageType AuthMessageType `json:"auth_message_type"`
	AuthMessage     string          `json:"auth_message"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	switch r.Type {
	case ResponseError:
		return json.Marshal(wireError{Type: r.Type, ErrorType: r.ErrorType, Description: r.Description})
	case ResponseAuthMessage:
		return json.Marshal(wireAuthMessage{Type: r.Type, AuthMessageType: r.AuthMessageType, AuthMessage: r.AuthMessage})
	default:
		return json.Marshal(wireTag{Type: string(r.Type)})
	}
}

type rawResponse struct {
	Type            ResponseType     `json:"type"`
	AuthMessageType *AuthMessageType `json:"auth_message_type"`
	AuthMessage     *string          `json:"auth_message"`
	ErrorType       *ErrorType       `json:"error_type"`
	Description     *string          `json:"description"`
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var raw rawResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Response
	switch raw.Type {
	case ResponseSuccess:
		out = Success()
	case ResponseError:
		if raw.ErrorType == nil || raw.Description == nil {
			return fmt.Errorf("%w: error.error_type/description", ErrMissingField)
		}
		out = Error(*raw.ErrorType, *raw.Description)
	case ResponseAuthMessage:
		if raw.AuthMessageType == nil || raw.AuthMessage == nil {
			return fmt.Errorf("%w: auth_message.auth_message_type/auth_message", ErrMissingField)
		}
		out = AuthMessage(*raw.AuthMessageType, *raw.AuthMessage)
	default:
		return fmt.Errorf("%w: response %q", ErrUnknownType, raw.Type)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*r = out
	return nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
