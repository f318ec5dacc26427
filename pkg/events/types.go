package events

// RewriteEvent is published after the primary server sub-option of an offer
// or ack has been replaced. Addresses are dotted quads.
type RewriteEvent struct {
	XID         uint32 `json:"xid"`
	MessageType string `json:"message_type"`
	ClientMAC   string `json:"client_mac"`
	YIAddr      string `json:"yiaddr"`
	Previous    string `json:"previous"`
	Server      string `json:"server"`
}
