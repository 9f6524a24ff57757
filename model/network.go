// Package model holds the initialization descriptors of a network: plain
// values decoded from configuration and handed to core.BuildNetwork.
package model

// NetworkDefinition is the top-level configuration document.
type NetworkDefinition struct {
	MaxControllers int                    `json:"max_controllers,omitempty"`
	Controllers    []ControllerDefinition `json:"controllers"`
}

// ControllerDefinition describes one network attachment.
type ControllerDefinition struct {
	Name       string `json:"name"`
	IP         string `json:"ip"`          // dotted IPv4
	SubnetMask string `json:"subnet_mask"` // dotted mask, e.g. 255.255.255.0
	MAC        string `json:"mac"`         // colon separated

	Arp ArpDefinition `json:"arp,omitempty"`

	MaxPorts           int  `json:"max_ports,omitempty"`
	ControlQueueSize   int  `json:"control_queue_size,omitempty"`
	MaxRxFramesPerTick int  `json:"max_rx_frames_per_tick,omitempty"`
	ChecksumOffload    bool `json:"checksum_offload,omitempty"`

	Link LinkDefinition `json:"link"`

	Ports      []PortDefinition      `json:"ports,omitempty"`
	StaticArps []StaticArpDefinition `json:"static_arp,omitempty"`
}

// ArpDefinition overrides ARP cache defaults. Durations use Go syntax
// ("60s", "1500ms").
type ArpDefinition struct {
	Entries            int    `json:"entries,omitempty"`
	DecayTime          string `json:"decay_time,omitempty"`
	DecayInterval      string `json:"decay_interval,omitempty"`
	RequestCooldown    string `json:"request_cooldown,omitempty"`
	MaxRequestAttempts int    `json:"max_request_attempts,omitempty"`
}

// PortDefinition describes one logical UDP port.
type PortDefinition struct {
	Name       string `json:"name"`
	Mode       string `json:"mode"` // "stream" (default) or "datagram"
	InPort     uint16 `json:"in_port"`
	OutPort    uint16 `json:"out_port"`
	DstIP      string `json:"dst_ip"`
	RxBuffer   int    `json:"rx_buffer,omitempty"`
	TxBuffer   int    `json:"tx_buffer,omitempty"`
	RxMessages int    `json:"rx_messages,omitempty"`
	TxMessages int    `json:"tx_messages,omitempty"`
	StrictPeer bool   `json:"strict_peer,omitempty"`
}

// StaticArpDefinition pins an IP to a MAC address.
type StaticArpDefinition struct {
	IP  string `json:"ip"`
	MAC string `json:"mac"`
}

// LinkDefinition selects the driver a controller is bound to. The command
// that builds the network interprets it; core never does.
type LinkDefinition struct {
	Type   string `json:"type"`             // "udp", "sim"
	Listen string `json:"listen,omitempty"` // udp: local host:port
	Remote string `json:"remote,omitempty"` // udp: peer host:port
	Pcap   string `json:"pcap,omitempty"`   // optional capture file

	// Simulated peer answering ARP, ICMP and echoing UDP (type "sim").
	PeerIP  string `json:"peer_ip,omitempty"`
	PeerMAC string `json:"peer_mac,omitempty"`
}
