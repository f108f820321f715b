package policy

import (
	"fmt"

	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

// Direction selects the chain a message is checked against.
type Direction string

const (
	// DirectionRoute is applied before a message is relayed to other peers.
	DirectionRoute Direction = "route"
	// DirectionPersonal is applied before results reach the local user.
	DirectionPersonal Direction = "personal"
)

func (d *Direction) UnmarshalText(text []byte) error {
	switch v := Direction(text); v {
	case DirectionRoute, DirectionPersonal:
		*d = v
		return nil
	default:
		return fmt.Errorf("unknown direction %q", string(text))
	}
}

const (
	ActionAllow = "allow"
	ActionDrop  = "drop"
)

// Decision is the outcome for one message.
type Decision struct {
	Direction Direction    `json:"direction"`
	GUID      message.GUID `json:"guid"`
	Action    string       `json:"action"`
	Filter    string       `json:"filter,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

func (d Decision) Allowed() bool { return d.Action == ActionAllow }
