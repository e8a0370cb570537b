package registry

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ---------------- 平滑加权轮询（SWRR） ----------------

type swItem struct {
	inst    Instance
	weight  int
	current int
}

type SWRR struct {
	mu   sync.Mutex
	key  string // 当前实例集合，集合不变时保留 current
	list []*swItem
}

func NewSWRR() *SWRR { return &SWRR{} }

// ParseWeight 元数据里的权重，非法或缺省为 1
func ParseWeight(meta map[string]string) int {
	n, err := strconv.Atoi(meta[MetaWeight])
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

func setKey(insts []Instance) string {
	ids := make([]string, 0, len(insts))
	for _, in := range insts {
		ids = append(ids, in.ID+"="+in.Metadata[MetaWeight])
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func (b *SWRR) Update(insts []Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := setKey(insts)
	if key == b.key && len(b.list) == len(insts) {
		return
	}
	b.key = key
	b.list = b.list[:0]
	for _, in := range insts {
		b.list = append(b.list, &swItem{inst: in, weight: ParseWeight(in.Metadata)})
	}
}

func (b *SWRR) Next() (Instance, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var (
		total int
		best  *swItem
	)
	for _, it := range b.list {
		it.current += it.weight
		total += it.weight
		if best == nil || it.current > best.current {
			best = it
		}
	}
	if best == nil {
		return Instance{}, false
	}
	best.current -= total
	return best.inst, true
}

// Balancer 按 key 维护独立的 SWRR，例如每个房间一个
type Balancer struct {
	reg     Registry
	service string

	mu  sync.Mutex
	lbs map[string]*SWRR
}

func NewBalancer(reg Registry, service string) *Balancer {
	return &Balancer{reg: reg, service: service, lbs: make(map[string]*SWRR)}
}

// Pick 在元数据 metaKey 包含 value 的实例中挑一个
func (b *Balancer) Pick(ctx context.Context, metaKey, value string) (Instance, bool, error) {
	all, err := b.reg.List(ctx, b.service)
	if err != nil {
		return Instance{}, false, err
	}
	var matched []Instance
	for _, in := range all {
		if MetaContains(in, metaKey, value) {
			matched = append(matched, in)
		}
	}
	b.mu.Lock()
	lb := b.lbs[metaKey+"/"+value]
	if lb == nil {
		lb = NewSWRR()
		b.lbs[metaKey+"/"+value] = lb
	}
	b.mu.Unlock()
	lb.Update(matched)
	inst, ok := lb.Next()
	return inst, ok, nil
}
