package network

import (
	"github.com/ethereum/go-ethereum/rlp"

	"cvnchain/native/governance"
)

const codecName = "cvn-rlp"

// rlpCodec frames gossip envelopes with RLP, the encoding governance
// messages already use on the wire.
type rlpCodec struct{}

func (rlpCodec) Marshal(v interface{}) ([]byte, error)      { return rlp.EncodeToBytes(v) }
func (rlpCodec) Unmarshal(data []byte, v interface{}) error { return rlp.DecodeBytes(data, v) }
func (rlpCodec) Name() string                               { return codecName }

type wireEnvelope struct {
	Kind       uint8
	Hash       governance.Hash
	Payload    []byte
	UnixMillis uint64
}

func toWire(env Envelope) *wireEnvelope {
	w := &wireEnvelope{Kind: uint8(env.Kind), Hash: env.Hash, Payload: env.Payload}
	if env.UnixMillis > 0 {
		w.UnixMillis = uint64(env.UnixMillis)
	}
	return w
}

func (w *wireEnvelope) envelope() Envelope {
	return Envelope{
		Kind:       EnvelopeKind(w.Kind),
		Hash:       w.Hash,
		Payload:    w.Payload,
		UnixMillis: int64(w.UnixMillis),
	}
}
