// Package sidetalk implements the Side-Talk Router: point-to-point and
// wildcard-broadcast messaging between Sentinels. The router is the
// sole owner of the layer-name lookup; Sentinels only ever exchange
// messages, never references to each other.
package sidetalk

import (
	"github.com/starlight-protocol/starlight/internal/registry"
	"github.com/starlight-protocol/starlight/internal/wire"
)

const Wildcard = "*"

// Registry is the lookup surface the router needs.
type Registry interface {
	Ready() []*registry.Sentinel
	ByLayer(layer string) (*registry.Sentinel, bool)
	Layers() []string
}

type Router struct {
	reg Registry
}

func New(reg Registry) *Router {
	return &Router{reg: reg}
}

// Route delivers msg to its target layer (or broadcasts on the "*"
// wildcard) and, when routing fails or replyTo is set on a successful
// delivery, sends a starlight.sidetalk_ack back to the sender.
func (r *Router) Route(sender *registry.Sentinel, msg wire.SidetalkParams) {
	if msg.To == Wildcard {
		r.broadcast(sender, msg)
		return
	}

	target, ok := r.reg.ByLayer(msg.To)
	if !ok || target.State() != registry.Ready {
		r.ack(sender, "undeliverable", r.reg.Layers(), msg.ReplyTo)
		return
	}

	frame, err := wire.NewNotification(wire.MethodSidetalk, msg)
	if err != nil {
		return
	}
	if err := target.Send(frame); err != nil {
		r.ack(sender, "undeliverable", r.reg.Layers(), msg.ReplyTo)
		return
	}

	if msg.ReplyTo != "" {
		r.ack(sender, "delivered", nil, msg.ReplyTo)
	}
}

func (r *Router) broadcast(sender *registry.Sentinel, msg wire.SidetalkParams) {
	frame, err := wire.NewNotification(wire.MethodSidetalk, msg)
	if err != nil {
		return
	}
	for _, s := range r.reg.Ready() {
		if s == sender {
			continue
		}
		_ = s.Send(frame)
	}
	if msg.ReplyTo != "" {
		r.ack(sender, "delivered", nil, msg.ReplyTo)
	}
}

func (r *Router) ack(sender *registry.Sentinel, status string, availableLayers []string, replyTo string) {
	if sender == nil {
		return
	}
	frame, err := wire.NewNotification(wire.MethodSidetalkAck, wire.SidetalkAckParams{
		Status:          status,
		AvailableLayers: availableLayers,
		ReplyTo:         replyTo,
	})
	if err != nil {
		return
	}
	_ = sender.Send(frame)
}
