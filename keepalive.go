package notifyws

// KeepAliveMessageFactory builds the frame the transport sends on every ping tick.
type KeepAliveMessageFactory func() Message

// PingKeepAlive sends empty ping control frames.
func PingKeepAlive() Message {
	return NewPingMessage(nil)
}

// replyPingWithPong answers server pings so that servers enforcing liveness keep
// the socket open. It reports whether m was a ping.
func replyPingWithPong(conn Connection, m Message) (bool, error) {
	if !m.Type().IsPing() {
		return false, nil
	}
	return true, conn.Write(NewPongMessage(m.Data()))
}
