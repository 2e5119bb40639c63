package game

// SendReliable queues data for p. Messages leave one at a time as the
// connection acknowledges the previous one.
func (e *Engine) SendReliable(p *Player, data []byte) {
	p.outbox.PushBack(data)
	e.flush(p)
}

// Broadcast sends data to every player except exclude.
func (e *Engine) Broadcast(data []byte, reliable bool, exclude *Player) {
	for _, p := range e.state.AllPlayers() {
		if p == exclude {
			continue
		}
		if reliable {
			e.SendReliable(p, data)
			continue
		}
		if err := p.Conn.SendUnreliable(data); err != nil {
			e.log.WithError(err).WithField("player", p.Name).Debug("unreliable send failed")
		}
	}
}

// flush hands the next queued message to the connection if it can take one.
func (e *Engine) flush(p *Player) {
	for p.outbox.Len() > 0 && p.Conn.CanSendMessage() {
		msg := p.outbox.PopFront()
		if err := p.Conn.SendMessage(msg); err != nil {
			e.log.WithError(err).WithField("player", p.Name).Warn("reliable send failed")
		}
	}
}
