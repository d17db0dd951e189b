package events

import (
	"strconv"
)

const (
	TypeGovernanceProposed  = "gov.cvn.proposed"
	TypeGovernanceSubmitted = "gov.cvn.submitted"
	TypeGovernanceRejected  = "gov.cvn.rejected"
	TypeGovernanceApplied   = "gov.cvn.applied"
)

// GovernanceProposed is emitted when a draft governance message is built.
type GovernanceProposed struct {
	Hash          string
	PrevBlockHash string
	Payload       uint8
	Validators    int
	ChainAdmins   int
}

func (GovernanceProposed) EventType() string { return TypeGovernanceProposed }

func (e GovernanceProposed) Attributes() map[string]string {
	return map[string]string{
		"hash":          e.Hash,
		"prevBlockHash": e.PrevBlockHash,
		"payload":       strconv.FormatUint(uint64(e.Payload), 10),
		"validators":    strconv.Itoa(e.Validators),
		"chainAdmins":   strconv.Itoa(e.ChainAdmins),
	}
}

// GovernanceSubmitted is emitted once a verified message was accepted by the
// chain and handed to the relay.
type GovernanceSubmitted struct {
	Hash       string
	Signatures int
	State      string
}

func (GovernanceSubmitted) EventType() string { return TypeGovernanceSubmitted }

func (e GovernanceSubmitted) Attributes() map[string]string {
	return map[string]string{
		"hash":       e.Hash,
		"signatures": strconv.Itoa(e.Signatures),
		"state":      e.State,
	}
}

// GovernanceRejected is emitted for rejected or blocked messages.
type GovernanceRejected struct {
	Hash   string
	Reason string
	State  string
}

func (GovernanceRejected) EventType() string { return TypeGovernanceRejected }

func (e GovernanceRejected) Attributes() map[string]string {
	return map[string]string{
		"hash":   e.Hash,
		"reason": e.Reason,
		"state":  e.State,
	}
}

// GovernanceApplied is emitted by the chain once a message mutated the
// registry.
type GovernanceApplied struct {
	Hash       string
	Height     uint32
	Validators int
	Admins     int
}

func (GovernanceApplied) EventType() string { return TypeGovernanceApplied }

func (e GovernanceApplied) Attributes() map[string]string {
	return map[string]string{
		"hash":       e.Hash,
		"height":     strconv.FormatUint(uint64(e.Height), 10),
		"validators": strconv.Itoa(e.Validators),
		"admins":     strconv.Itoa(e.Admins),
	}
}
