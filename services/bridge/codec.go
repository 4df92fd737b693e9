package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang/protobuf/proto"

	"usarthal-go/bus"
	"usarthal-go/services/bridge/wire"
	"usarthal-go/types"
)

const (
	EncodingJSON  = "json"
	EncodingProto = "proto"
)

// splitTopic turns a slash separated filter into a bus topic.
func splitTopic(s string) bus.Topic {
	parts := strings.Split(s, "/")
	t := make(bus.Topic, len(parts))
	for i, p := range parts {
		t[i] = p
	}
	return t
}

func joinTopic(t bus.Topic) string {
	var sb strings.Builder
	for i, tok := range t {
		if i > 0 {
			sb.WriteByte('/')
		}
		fmt.Fprint(&sb, tok)
	}
	return sb.String()
}

// remoteTopic places a bus topic under the remote prefix.
func remoteTopic(prefix string, t bus.Topic) string {
	return prefix + "/" + joinTopic(t)
}

// localTopic strips the remote prefix.
func localTopic(prefix, remote string) (bus.Topic, bool) {
	rest, ok := strings.CutPrefix(remote, prefix+"/")
	if !ok || rest == "" {
		return nil, false
	}
	return splitTopic(rest), true
}

// encodePayload renders a bus payload for the remote side. A nil payload
// stays empty, which clears a retained topic. With proto encoding, serial
// data and stats use the wire messages; everything else is JSON.
func encodePayload(enc string, t bus.Topic, payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	if enc == EncodingProto && len(t) >= 3 {
		port := fmt.Sprint(t[2])
		switch v := payload.(type) {
		case types.SerialData:
			return proto.Marshal(wire.FromData(port, fmt.Sprint(t[len(t)-1]), v))
		case types.SerialStats:
			return proto.Marshal(wire.FromStats(port, v))
		}
	}
	switch v := payload.(type) {
	case json.RawMessage:
		return v, nil
	}
	return json.Marshal(payload)
}
