package daemon

import "encoding/json"

// Inbound message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgQuery       = "query"
	MsgPing        = "ping"
)

// Outbound message types.
const (
	MsgSubscribed   = "subscribed"
	MsgUnsubscribed = "unsubscribed"
	MsgIndexUpdated = "index_updated"
	MsgResponse     = "response"
	MsgError        = "error"
	MsgPong         = "pong"
)

// Error codes carried on MsgError.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeNotFound        = "not_found"
	CodeAmbiguous       = "ambiguous"
	CodeInternal        = "internal"
)

// Inbound is a client→daemon message. Query messages carry an ID echoed
// back on the response so clients can pipeline requests.
type Inbound struct {
	Type   string          `json:"type"`
	Repo   string          `json:"repo,omitempty"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Outbound is a daemon→client message.
type Outbound struct {
	Type         string   `json:"type"`
	Repo         string   `json:"repo,omitempty"`
	ID           string   `json:"id,omitempty"`
	Version      int64    `json:"version,omitempty"`
	Status       Status   `json:"status,omitempty"`
	ChangedFiles []string `json:"changed_files,omitempty"`
	Result       any      `json:"result,omitempty"`
	Code         string   `json:"code,omitempty"`
	Message      string   `json:"message,omitempty"`
}

func errorMsg(id, code, message string) Outbound {
	return Outbound{Type: MsgError, ID: id, Code: code, Message: message}
}
