package downloader

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"sync"
)

var (
	instanceOnce sync.Once
	instanceID   string
)

// InstanceID identifies this process in the acquisition ledger as
// "<hostname>-<pid>-<random>", so provisioners sharing a volume can be told
// apart. The value is fixed for the lifetime of the process.
func InstanceID() string {
	instanceOnce.Do(func() {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "unknown"
		}

		rnd := make([]byte, 4)
		_, _ = rand.Read(rnd)

		instanceID = host + "-" + strconv.Itoa(os.Getpid()) + "-" + hex.EncodeToString(rnd)
	})

	return instanceID
}
