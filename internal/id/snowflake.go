package id

import (
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	node    *snowflake.Node
	once    sync.Once
	initErr error
)

// Init initializes the Snowflake node with the given node ID. Only the first
// call has an effect.
func Init(nodeID int64) error {
	once.Do(func() {
		node, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

// New returns a time-ordered unique ID. It falls back to the wall clock if
// the node could not be created.
func New() string {
	if err := Init(1); err != nil || node == nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return node.Generate().String()
}
