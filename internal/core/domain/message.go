package domain

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
)

type MessageType string

const (
	MessageTypeOffer        MessageType = "offer"
	MessageTypeAnswer       MessageType = "answer"
	MessageTypeICECandidate MessageType = "ice-candidate"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
		return true
	}
	return false
}

// SignalMessage is one relayed control message. Exactly one of Offer, Answer
// or Candidate is set, matching Type. Sender is stamped by the relay and is
// never set on outbound messages.
type SignalMessage struct {
	Type      MessageType                `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Target    Identity                   `json:"target,omitempty"`
	Sender    Identity                   `json:"sender,omitempty"`
}

func NewOfferMessage(target Identity, offer webrtc.SessionDescription) SignalMessage {
	return SignalMessage{Type: MessageTypeOffer, Offer: &offer, Target: target}
}

func NewAnswerMessage(target Identity, answer webrtc.SessionDescription) SignalMessage {
	return SignalMessage{Type: MessageTypeAnswer, Answer: &answer, Target: target}
}

func NewICECandidateMessage(target Identity, candidate webrtc.ICECandidateInit) SignalMessage {
	return SignalMessage{Type: MessageTypeICECandidate, Candidate: &candidate, Target: target}
}

// Validate checks that the payload required by the message type is present.
func (m SignalMessage) Validate() error {
	switch m.Type {
	case MessageTypeOffer:
		if m.Offer == nil || m.Offer.SDP == "" {
			return fmt.Errorf("%w: offer", ErrMissingPayload)
		}
	case MessageTypeAnswer:
		if m.Answer == nil || m.Answer.SDP == "" {
			return fmt.Errorf("%w: answer", ErrMissingPayload)
		}
	case MessageTypeICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("%w: candidate", ErrMissingPayload)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, m.Type)
	}
	return nil
}

// EncodeMessage serializes an outbound message into a text frame.
func EncodeMessage(m SignalMessage) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeMessage parses one inbound text frame. Descriptions that arrive
// without an explicit type are assumed to match the message type.
func DecodeMessage(data []byte) (SignalMessage, error) {
	var m SignalMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return SignalMessage{}, fmt.Errorf("decode signal message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return SignalMessage{}, err
	}

	switch m.Type {
	case MessageTypeOffer:
		if m.Offer.Type == webrtc.SDPType(0) {
			m.Offer.Type = webrtc.SDPTypeOffer
		}
	case MessageTypeAnswer:
		if m.Answer.Type == webrtc.SDPType(0) {
			m.Answer.Type = webrtc.SDPTypeAnswer
		}
	}
	return m, nil
}
