package scoredto

import "encoding/json"

// Frame is the message exchanged between a game surface and its host.
// Value is kept raw: the receiving side validates it before use. Seq pairs a
// reply with the request it answers.
type Frame struct {
	Kind  string          `json:"kind"`
	Seq   uint64          `json:"seq,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}
