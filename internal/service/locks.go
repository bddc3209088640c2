package service

import (
	"hash/fnv"
	"sync"
)

// hashLocks 是按内容哈希分片的互斥锁，串行化同一哈希上的
// “查询-写入-提交”与孤儿清理的“查询-删除”。
type hashLocks struct {
	stripes [64]sync.Mutex
}

func (l *hashLocks) lock(hash string) func() {
	h := fnv.New32a()
	h.Write([]byte(hash))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
