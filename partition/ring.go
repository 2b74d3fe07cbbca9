package partition

import (
	"fmt"
	"strconv"

	"github.com/buraksezer/consistent"
	"github.com/spaolacci/murmur3"
)

type hasher struct{}

func (h hasher) Sum64(data []byte) uint64 {
	return murmur3.Sum64(data)
}

type lane string

func (l lane) String() string {
	return string(l)
}

// Ring assigns keys (user ids) to a fixed number of lanes. A given key always
// lands on the same lane, which is what per-user ordering and per-user cache
// invalidation rely on.
type Ring struct {
	lanes int
	hring *consistent.Consistent
	index map[string]int
}

func NewRing(lanes int) *Ring {
	if lanes < 1 {
		lanes = 1
	}
	members := make([]consistent.Member, 0, lanes)
	index := make(map[string]int, lanes)
	for i := 0; i < lanes; i++ {
		name := "lane-" + strconv.Itoa(i)
		members = append(members, lane(name))
		index[name] = i
	}
	cfg := consistent.Config{
		PartitionCount:    partitionCount(lanes),
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	}
	return &Ring{
		lanes: lanes,
		hring: consistent.New(members, cfg),
		index: index,
	}
}

// partitionCount keeps enough partitions per lane for the bounded-load distribution.
func partitionCount(lanes int) int {
	n := lanes * 16
	if n < 71 {
		n = 71
	}
	return n
}

func (r *Ring) Lanes() int {
	return r.lanes
}

func (r *Ring) Lane(key string) int {
	member := r.hring.LocateKey([]byte(key))
	i, ok := r.index[member.String()]
	if !ok {
		panic(fmt.Sprintf("ring returned unknown member %s", member.String()))
	}
	return i
}
