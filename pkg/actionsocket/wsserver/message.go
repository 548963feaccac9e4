package wsserver

// Message kinds of the wire protocol, carried in the "k" field.
const (
	// Bidirectional. Events have no "k" field and are identified by "t".
	MessageKindEvent = ""

	// Server to client answers to events that carried an "i" field.
	MessageKindAck  = "a"
	MessageKindNack = "n"
)

// WireMessage is the JSON structure of every frame. Field names are kept
// short since every frame carries them.
//
//	client → server   {"t":"save","d":{"name":"ada"},"i":7}
//	server → client   {"k":"a","i":7,"d":"received"}
//	server → client   {"t":"save/success","d":{"id":"1"}}
type WireMessage struct {
	Kind  string `json:"k,omitempty"` // see MessageKind constants
	Event string `json:"t,omitempty"` // event name
	Data  any    `json:"d,omitempty"` // payload, absent when nil
	Id    any    `json:"i,omitempty"` // set by clients that want an acknowledgment
	Error string `json:"e,omitempty"` // set on NACK
}
