package discovery

import "encoding/json"

// packetKind tags the payload carried by one UDP beacon datagram.
type packetKind string

const (
	kindAdvertise   packetKind = "ADV"
	kindUnadvertise packetKind = "UNADV"
	kindHeartbeat   packetKind = "HEARTBEAT"
	kindDiscover    packetKind = "DISCOVER"
	kindBye         packetKind = "BYE"
)

// packet is the JSON wire format of a beacon datagram, chosen to match
// the teacher's own JSON-encoded network.Message rather than inventing a
// binary layout spec.md leaves unspecified.
type packet struct {
	Kind      packetKind      `json:"kind"`
	ProcessID string          `json:"process_id"`
	Topic     string          `json:"topic,omitempty"`
	NodeID    string          `json:"node_id,omitempty"`
	Record    json.RawMessage `json:"record,omitempty"`
}

func encodePacket(kind packetKind, processID, topic, nodeID string, record any) ([]byte, error) {
	p := packet{Kind: kind, ProcessID: processID, Topic: topic, NodeID: nodeID}
	if record != nil {
		raw, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		p.Record = raw
	}
	return json.Marshal(p)
}

func decodePacket(b []byte) (packet, error) {
	var p packet
	err := json.Unmarshal(b, &p)
	return p, err
}

func unmarshalRecord[R any](raw json.RawMessage, out *R) error {
	return json.Unmarshal(raw, out)
}
