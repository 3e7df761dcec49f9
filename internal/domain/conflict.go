package domain

import "fmt"

// ConflictReason classifies a refused placement.
type ConflictReason string

const (
	ReasonMergeNetworks             ConflictReason = "merge_networks"
	ReasonDuplicateServer           ConflictReason = "duplicate_server"
	ReasonDuplicateSecurityTerminal ConflictReason = "duplicate_security_terminal"
	ReasonCableLimit                ConflictReason = "cable_limit"
	ReasonScanLimit                 ConflictReason = "scan_limit"
	ReasonOccupied                  ConflictReason = "occupied"
)

var reasonMessages = map[ConflictReason]string{
	ReasonMergeNetworks:             "would connect two established networks",
	ReasonDuplicateServer:           "would connect two servers",
	ReasonDuplicateSecurityTerminal: "would connect two security terminals",
	ReasonCableLimit:                "network has reached its cable limit",
	ReasonScanLimit:                 "structure is too large to verify",
	ReasonOccupied:                  "coordinate is already occupied",
}

// Conflict is a placement rejection produced before any state is mutated.
type Conflict struct {
	Reason   ConflictReason `json:"reason"`
	At       Coordinate     `json:"at"`
	Kind     NodeKind       `json:"kind"`
	Networks []string       `json:"networks,omitempty"`
	Limit    int            `json:"limit,omitempty"`
}

// Message is the user-facing refusal text.
func (c *Conflict) Message() string {
	msg, ok := reasonMessages[c.Reason]
	if !ok {
		msg = string(c.Reason)
	}
	if c.Reason == ReasonCableLimit && c.Limit > 0 {
		return fmt.Sprintf("%s (%d)", msg, c.Limit)
	}
	return msg
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("cannot place %s at %s: %s", c.Kind, c.At, c.Message())
}
