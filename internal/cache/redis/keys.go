package redis

import (
	"regexp"

	"github.com/ethereum/go-ethereum/common"
)

// keyPrefix namespaces every key this package writes, so the service can
// share a Redis database.
const keyPrefix = "yieldvault:"

func snapshotKey(vault common.Address) string {
	return keyPrefix + "snapshot:" + vault.Hex()
}

func snapshotVersionKey(vault common.Address) string {
	return snapshotKey(vault) + ":version"
}

func harvestLockKey(vault common.Address) string {
	return keyPrefix + "harvest-lock:" + vault.Hex()
}

func rateLimitKey(client string) string {
	return keyPrefix + "ratelimit:" + client
}

func eventChannel(vault common.Address) string {
	return keyPrefix + "events:" + vault.Hex()
}

func eventLogKey(vault common.Address) string {
	return eventChannel(vault) + ":log"
}

var streamIDPattern = regexp.MustCompile(`^\d+(-\d+)?$`)

// validStreamID reports whether id is a Redis stream entry ID.
func validStreamID(id string) bool {
	return streamIDPattern.MatchString(id)
}
