package broker

import (
	"github.com/makerhaus/memberd/spec"
)

// Producer defines a producer sending events via message broker
type Producer interface {
	Close()
	PublishMemberJoined(e *spec.MemberJoinedEvent) error
}
