// Package knxtunnel implements the core of a KNXnet/IP tunneling client:
// frame codecs, the cEMI/APDU/DPT layers, and a sans-I/O tunnel connection
// state machine for talking to a KNX building-automation gateway over
// UDP/IPv4.
//
// # Architecture
//
// The package owns no socket, timer, or goroutine. A host loop drives it:
//
//	┌──────────┐  UDP recv  ┌──────────────────┐  GroupEvent  ┌─────────┐
//	│   Host    │───────────►│  TunnelConnection │─────────────►│  Caller │
//	│ (socket,  │            │   (this package)  │              └─────────┘
//	│  timers)  │◄───────────│                   │◄───────────── Send(...)
//	└──────────┘ GetOutboundData / GetNextTimeEvent / HandleTimeEvents
//
// The host is responsible for binding the UDP socket, reading datagrams,
// and sizing its poll/select deadline from GetNextTimeEvent. See
// cmd/knxtunnel-demo for a minimal host loop.
//
// # Group addresses
//
// KNX group addresses are 16-bit values usually rendered in 2-level
// (Main/Sub) or 3-level (Main/Middle/Sub) form:
//
//	addr, err := knxtunnel.ParseGroupAddress3("1/2/3")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(addr.String()) // "1/2/3"
//
// # Datapoint types
//
// DPT values are encoded and decoded through the DPT interface. Inbound
// payloads always arrive as Opaque; the caller reinterprets them with the
// DPT variant it expects for that address (the core keeps no address→DPT
// registry).
//
// # Thread safety
//
// TunnelConnection is not internally synchronized. Its three entry points
// (Send, HandleInboundMessage, HandleTimeEvents) are not reentrant and must
// be serialized by the host.
package knxtunnel
