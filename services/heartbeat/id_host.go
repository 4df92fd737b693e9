//go:build !tinygo

package heartbeat

import "github.com/denisbrodbeck/machineid"

func deviceID(appID string) (string, error) {
	if appID == "" {
		return machineid.ID()
	}
	return machineid.ProtectedID(appID)
}
