package datagram

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// Stats counts traffic for one connection or a whole driver.
type Stats struct {
	MessagesSent               uint64
	MessagesReceived           uint64
	UnreliableMessagesSent     uint64
	UnreliableMessagesReceived uint64
	PacketsSent                uint64
	PacketsResent              uint64
	PacketsReceived            uint64
	ReceivedDuplicates         uint64
	ShortPackets               uint64
	DroppedDatagrams           uint64
	ForgedPackets              uint64
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.MessagesSent += o.MessagesSent
	s.MessagesReceived += o.MessagesReceived
	s.UnreliableMessagesSent += o.UnreliableMessagesSent
	s.UnreliableMessagesReceived += o.UnreliableMessagesReceived
	s.PacketsSent += o.PacketsSent
	s.PacketsResent += o.PacketsResent
	s.PacketsReceived += o.PacketsReceived
	s.ReceivedDuplicates += o.ReceivedDuplicates
	s.ShortPackets += o.ShortPackets
	s.DroppedDatagrams += o.DroppedDatagrams
	s.ForgedPackets += o.ForgedPackets
}

// Struct converts s into a protobuf Struct for JSON output.
func (s Stats) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"messagesSent":               s.MessagesSent,
		"messagesReceived":           s.MessagesReceived,
		"unreliableMessagesSent":     s.UnreliableMessagesSent,
		"unreliableMessagesReceived": s.UnreliableMessagesReceived,
		"packetsSent":                s.PacketsSent,
		"packetsResent":              s.PacketsResent,
		"packetsReceived":            s.PacketsReceived,
		"receivedDuplicates":         s.ReceivedDuplicates,
		"shortPackets":               s.ShortPackets,
		"droppedDatagrams":           s.DroppedDatagrams,
		"forgedPackets":              s.ForgedPackets,
	})
}
