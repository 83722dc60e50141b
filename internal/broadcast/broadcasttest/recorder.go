// Package broadcasttest provides a recording broadcast.Notifier for
// component tests.
package broadcasttest

import (
	"github.com/atmx/crowd-engine/internal/protocol"
)

// Everyone is the recipient recorded for ToAll deliveries.
const Everyone = "*"

// Delivery is one recorded notification.
type Delivery struct {
	To  []string
	Msg protocol.Message
}

// Recorder records notifications instead of sending them.
type Recorder struct {
	Deliveries []Delivery
}

func (r *Recorder) ToIdentity(identity string, msg protocol.Message) {
	r.Deliveries = append(r.Deliveries, Delivery{To: []string{identity}, Msg: msg})
}

func (r *Recorder) ToIdentities(identities []string, msg protocol.Message) {
	to := append([]string(nil), identities...)
	r.Deliveries = append(r.Deliveries, Delivery{To: to, Msg: msg})
}

func (r *Recorder) ToAll(msg protocol.Message) {
	r.Deliveries = append(r.Deliveries, Delivery{To: []string{Everyone}, Msg: msg})
}

// OfType returns the deliveries of the given frame type, oldest first.
func (r *Recorder) OfType(typ string) []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries {
		if d.Msg.Type == typ {
			out = append(out, d)
		}
	}
	return out
}

// Last returns the most recent delivery of the given type.
func (r *Recorder) Last(typ string) (Delivery, bool) {
	ds := r.OfType(typ)
	if len(ds) == 0 {
		return Delivery{}, false
	}
	return ds[len(ds)-1], true
}

// Reset forgets every recorded delivery.
func (r *Recorder) Reset() {
	r.Deliveries = nil
}
