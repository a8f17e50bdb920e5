package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Snowflake ids: 41 bits of milliseconds since Epoch, 10 bits of node id,
// 12 bits of per-millisecond sequence. Trend-increasing, so they index well.

// Epoch is 2024-01-01 00:00:00 UTC in milliseconds.
const Epoch = int64(1704067200000)

var (
	node *snowflake.Node
	mu   sync.Mutex
)

// Init sets the node id (0-1023) of the process-wide generator.
func Init(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()

	snowflake.Epoch = Epoch
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	node = n
	return nil
}

func NextID() int64 {
	mu.Lock()
	n := node
	mu.Unlock()
	if n == nil {
		if err := Init(1); err != nil {
			panic(err)
		}
		mu.Lock()
		n = node
		mu.Unlock()
	}
	return n.Generate().Int64()
}

func withPrefix(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s%d", prefix, time.Now().UTC().Format("20060102150405"), id)
}

// GenerateTransactionNo returns a credit transaction number, e.g. TXN20240115143052<snowflake id>.
func GenerateTransactionNo() string {
	return withPrefix("TXN")
}

// GenerateCheckoutID returns a checkout session id.
func GenerateCheckoutID() string {
	return withPrefix("CHK")
}
