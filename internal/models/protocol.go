package models

// RequestOutcome is what the request-handling layer reports for every
// completed request. It doubles as the JetStream wire format for services
// that report remotely.
type RequestOutcome struct {
	V        int               `msgpack:"v" json:"v"`
	TS       int64             `msgpack:"ts" json:"ts"`
	Service  string            `msgpack:"service" json:"service"`
	Status   int               `msgpack:"status" json:"status"`
	IP       string            `msgpack:"ip" json:"ip"`
	UserID   string            `msgpack:"user_id" json:"user_id,omitempty"`
	Path     string            `msgpack:"path" json:"path"`
	Method   string            `msgpack:"method" json:"method"`
	BodySize int64             `msgpack:"body_size" json:"body_size"`
	Body     string            `msgpack:"body" json:"body,omitempty"`
	Query    string            `msgpack:"query" json:"query,omitempty"`
	Headers  map[string]string `msgpack:"headers" json:"headers,omitempty"`
}

// Alert is the wire format published for every enforcement notification.
type Alert struct {
	V           int    `msgpack:"v" json:"v"`
	TS          int64  `msgpack:"ts" json:"ts"`
	EventID     string `msgpack:"event_id" json:"event_id"`
	Level       string `msgpack:"level" json:"level"`
	EventType   string `msgpack:"event_type" json:"event_type"`
	Description string `msgpack:"description" json:"description"`
	IP          string `msgpack:"ip" json:"ip,omitempty"`
}

// AlertFromEvent builds the wire alert for ev.
func AlertFromEvent(ev SecurityEvent) Alert {
	return Alert{
		V:           1,
		TS:          ev.CreatedAt.UnixMilli(),
		EventID:     ev.ID,
		Level:       string(ev.Level),
		EventType:   ev.EventType,
		Description: ev.Description,
		IP:          ev.IPValue(),
	}
}

// FeedMessage is pushed to live operator connections.
type FeedMessage struct {
	Kind  string         `json:"kind"`
	Event *SecurityEvent `json:"event,omitempty"`
	Agent *AgentState    `json:"agent,omitempty"`
}

// AdmissionRequest asks whether a remote service should serve a request.
type AdmissionRequest struct {
	V    int    `msgpack:"v"`
	IP   string `msgpack:"ip"`
	Path string `msgpack:"path"`
}

// AdmissionReply answers an AdmissionRequest. Allowed already accounts for
// the lockdown allow-list.
type AdmissionReply struct {
	Blocked  bool   `msgpack:"blocked"`
	Lockdown bool   `msgpack:"lockdown"`
	Allowed  bool   `msgpack:"allowed"`
	Error    string `msgpack:"error,omitempty"`
}
