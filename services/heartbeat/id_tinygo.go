//go:build tinygo

package heartbeat

import "usarthal-go/errcode"

func deviceID(string) (string, error) { return "", errcode.Unsupported }
