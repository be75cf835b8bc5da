package protocol

import (
	"fmt"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// condition is the precondition of a pipeline: the accepted phases or
// states, the expected message and the accepted senders.
type condition struct {
	phases  []domain.Phase
	states  []domain.State
	msg     domain.Message
	sender  domain.NodeAddress
	senders []domain.PeerRole
	checks  []func(t *domain.Trade) error
}

// inPhase returns a condition satisfied if the trade is in one of the given
// phases.
func inPhase(phases ...domain.Phase) condition {
	return condition{phases: phases}
}

// inState returns a condition satisfied if the trade is in one of the given
// states.
func inState(states ...domain.State) condition {
	return condition{states: states}
}

// phaseRange returns the phases from first to last included.
func phaseRange(first, last domain.Phase) []domain.Phase {
	phases := make([]domain.Phase, 0)
	for p := first; p <= last; p++ {
		phases = append(phases, p)
	}
	return phases
}

// with sets the message expected by the condition.
func (c condition) with(msg domain.Message, sender domain.NodeAddress) condition {
	c.msg = msg
	c.sender = sender
	return c
}

// from restricts the accepted senders to the peers with the given roles.
func (c condition) from(roles ...domain.PeerRole) condition {
	c.senders = roles
	return c
}

// require adds a custom check to the condition.
func (c condition) require(check func(t *domain.Trade) error) condition {
	c.checks = append(c.checks, check)
	return c
}

// check verifies the condition against the trade and returns the role of
// the sender, if any.
func (c condition) check(t *domain.Trade) (domain.PeerRole, error) {
	if len(c.phases) > 0 && !containsPhase(c.phases, t.Phase) {
		return 0, fmt.Errorf(
			"%w: unexpected phase %s", ErrPreconditionFailed, t.Phase,
		)
	}
	if len(c.states) > 0 && !containsState(c.states, t.State) {
		return 0, fmt.Errorf(
			"%w: unexpected state %s", ErrPreconditionFailed, t.State,
		)
	}

	var senderRole domain.PeerRole
	if c.msg != nil {
		if c.msg.Info().TradeID != t.ID {
			return 0, fmt.Errorf(
				"%w: message for trade %s", ErrPreconditionFailed, c.msg.Info().TradeID,
			)
		}
		role, err := c.resolveSender(t)
		if err != nil {
			return 0, err
		}
		senderRole = role
	}

	for _, check := range c.checks {
		if err := check(t); err != nil {
			return 0, fmt.Errorf("%w: %s", ErrPreconditionFailed, err)
		}
	}
	return senderRole, nil
}

// resolveSender matches the sender against the accepted peers. A peer whose
// address is not known yet accepts any sender.
func (c condition) resolveSender(t *domain.Trade) (domain.PeerRole, error) {
	roles := c.senders
	if len(roles) == 0 {
		roles = t.OtherRoles()
	}
	for _, r := range roles {
		if t.Peer(r).NodeAddress == c.sender {
			return r, nil
		}
	}
	for _, r := range roles {
		if r != t.SelfRole() && t.Peer(r).NodeAddress == "" {
			return r, nil
		}
	}
	return 0, fmt.Errorf(
		"%w: unexpected sender %s for %s", ErrPreconditionFailed, c.sender,
		c.msg.Type(),
	)
}

func containsPhase(list []domain.Phase, p domain.Phase) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

func containsState(list []domain.State, s domain.State) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
