package mqtt

// EventHandler receives connection lifecycle notifications from the sink.
// Embed NopEventHandler to implement only the hooks you care about.
type EventHandler interface {
	OnConnect()
	OnConnectionLost(err error)
	OnReconnecting()
	OnDeliveryComplete(topic string, size int)
}

// NopEventHandler ignores every event.
type NopEventHandler struct{}

func (NopEventHandler) OnConnect() {}
func (NopEventHandler) OnConnectionLost(error) {}
func (NopEventHandler) OnReconnecting() {}
func (NopEventHandler) OnDeliveryComplete(string, int) {}
