// Package registry describes gateway and shard nodes to each other. A node
// registers itself with the rooms or areas it hosts in its metadata; routers
// list the live instances and pick one with smooth weighted round-robin.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	"PPGate/tools/errs"
)

const (
	GatewayService = "ppgate-gateway"
	ShardService   = "ppgate-shard"

	MetaRooms  = "rooms"  // 逗号分隔
	MetaAreas  = "areas"  // 逗号分隔
	MetaWeight = "weight" // 正整数，缺省 1
	MetaNode   = "node"
)

type Instance struct {
	Service  string
	ID       string
	Address  string
	Port     int
	Metadata map[string]string
}

type Registry interface {
	Register(ctx context.Context, inst Instance) error
	Deregister(ctx context.Context, inst Instance) error
	// List 只返回健康实例
	List(ctx context.Context, service string) ([]Instance, error)
	Close() error
}

// MetaContains 元数据 key 的逗号列表里是否有 v
func MetaContains(inst Instance, key, v string) bool {
	for _, s := range strings.Split(inst.Metadata[key], ",") {
		if strings.TrimSpace(s) == v {
			return true
		}
	}
	return false
}

// Memory 进程内注册表，单机部署和测试用
type Memory struct {
	mu   sync.RWMutex
	svcs map[string]map[string]Instance
}

func NewMemory() *Memory {
	return &Memory{svcs: make(map[string]map[string]Instance)}
}

func (m *Memory) Register(_ context.Context, inst Instance) error {
	if inst.Service == "" || inst.ID == "" {
		return errs.ErrArgs.WrapMsg("instance needs service and id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.svcs[inst.Service] == nil {
		m.svcs[inst.Service] = make(map[string]Instance)
	}
	m.svcs[inst.Service][inst.ID] = inst
	return nil
}

func (m *Memory) Deregister(_ context.Context, inst Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.svcs[inst.Service], inst.ID)
	return nil
}

func (m *Memory) List(_ context.Context, service string) ([]Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Instance, 0, len(m.svcs[service]))
	for _, inst := range m.svcs[service] {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Close() error { return nil }
