// Package wire holds the protobuf messages the bridge puts on a link.
//
// The messages are declared by hand with struct tags in the layout protoc
// emits for proto3, so they can be marshalled without generated code:
//
//	message Publish     { string topic = 1; bytes payload = 2; bool retained = 3; }
//	message Subscribe   { string filter = 1; }
//	message SerialData  { string port = 1; string dir = 2; bytes data = 3; int64 ts_ms = 4; }
//	message SerialStats { string port = 1; uint64 rx_bytes = 2; uint64 tx_bytes = 3;
//	                      uint32 overrun = 4; uint32 framing = 5; uint32 parity = 6;
//	                      uint32 break = 7; uint32 timeouts = 8; int64 ts_ms = 9; }
package wire

import (
	"github.com/golang/protobuf/proto"

	"usarthal-go/types"
)

// Publish carries one bus message across a stream link.
type Publish struct {
	Topic    string `protobuf:"bytes,1,opt,name=topic,proto3" json:"topic,omitempty"`
	Payload  []byte `protobuf:"bytes,2,opt,name=payload,proto3" json:"payload,omitempty"`
	Retained bool   `protobuf:"varint,3,opt,name=retained,proto3" json:"retained,omitempty"`
}

func (m *Publish) Reset()         { *m = Publish{} }
func (m *Publish) String() string { return proto.CompactTextString(m) }
func (*Publish) ProtoMessage()    {}

// Subscribe asks the far end of a stream link for a topic filter.
type Subscribe struct {
	Filter string `protobuf:"bytes,1,opt,name=filter,proto3" json:"filter,omitempty"`
}

func (m *Subscribe) Reset()         { *m = Subscribe{} }
func (m *Subscribe) String() string { return proto.CompactTextString(m) }
func (*Subscribe) ProtoMessage()    {}

type SerialData struct {
	Port string `protobuf:"bytes,1,opt,name=port,proto3" json:"port,omitempty"`
	Dir  string `protobuf:"bytes,2,opt,name=dir,proto3" json:"dir,omitempty"`
	Data []byte `protobuf:"bytes,3,opt,name=data,proto3" json:"data,omitempty"`
	TsMs int64  `protobuf:"varint,4,opt,name=ts_ms,json=tsMs,proto3" json:"ts_ms,omitempty"`
}

func (m *SerialData) Reset()         { *m = SerialData{} }
func (m *SerialData) String() string { return proto.CompactTextString(m) }
func (*SerialData) ProtoMessage()    {}

type SerialStats struct {
	Port     string `protobuf:"bytes,1,opt,name=port,proto3" json:"port,omitempty"`
	RxBytes  uint64 `protobuf:"varint,2,opt,name=rx_bytes,json=rxBytes,proto3" json:"rx_bytes,omitempty"`
	TxBytes  uint64 `protobuf:"varint,3,opt,name=tx_bytes,json=txBytes,proto3" json:"tx_bytes,omitempty"`
	Overrun  uint32 `protobuf:"varint,4,opt,name=overrun,proto3" json:"overrun,omitempty"`
	Framing  uint32 `protobuf:"varint,5,opt,name=framing,proto3" json:"framing,omitempty"`
	Parity   uint32 `protobuf:"varint,6,opt,name=parity,proto3" json:"parity,omitempty"`
	Break    uint32 `protobuf:"varint,7,opt,name=break,proto3" json:"break,omitempty"`
	Timeouts uint32 `protobuf:"varint,8,opt,name=timeouts,proto3" json:"timeouts,omitempty"`
	TsMs     int64  `protobuf:"varint,9,opt,name=ts_ms,json=tsMs,proto3" json:"ts_ms,omitempty"`
}

func (m *SerialStats) Reset()         { *m = SerialStats{} }
func (m *SerialStats) String() string { return proto.CompactTextString(m) }
func (*SerialStats) ProtoMessage()    {}

func FromData(port, dir string, d types.SerialData) *SerialData {
	return &SerialData{Port: port, Dir: dir, Data: d.Data, TsMs: d.TS}
}

func FromStats(port string, s types.SerialStats) *SerialStats {
	return &SerialStats{
		Port:     port,
		RxBytes:  s.RxBytes,
		TxBytes:  s.TxBytes,
		Overrun:  s.Overrun,
		Framing:  s.Framing,
		Parity:   s.Parity,
		Break:    s.Break,
		Timeouts: s.Timeouts,
		TsMs:     s.TS,
	}
}
