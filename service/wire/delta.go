package wire

import (
	"encoding/base64"

	"PPGate/tools/errs"
)

type DeltaKind int

const (
	DeltaSet   DeltaKind = 0 // 全量快照
	DeltaPatch DeltaKind = 1 // 增量
)

func (k DeltaKind) String() string {
	if k == DeltaSet {
		return "SET"
	}
	return "PATCH"
}

// Delta 一条待下发的 area 状态变化；Seq 为 shard 侧的状态版本
type Delta struct {
	Kind   DeltaKind
	AreaID string
	Seq    uint64
	Data   []byte
}

// Deltas 解析 STATE_UPDATES 里的 delta 列表
func (f *Frame) Deltas(i int) ([]Delta, error) {
	raw, ok := f.Value(i).([]any)
	if !ok {
		return nil, f.argErr(i, "delta list")
	}
	out := make([]Delta, 0, len(raw))
	for _, item := range raw {
		tuple, ok := item.([]any)
		if !ok || len(tuple) != 4 {
			return nil, f.argErr(i, "delta tuple")
		}
		kind, ok1 := tuple[0].(float64)
		area, ok2 := tuple[1].(string)
		seq, ok3 := tuple[2].(float64)
		if !ok1 || !ok2 || !ok3 {
			return nil, f.argErr(i, "delta tuple")
		}
		d := Delta{Kind: DeltaKind(kind), AreaID: area, Seq: uint64(seq)}
		if s, ok := tuple[3].(string); ok {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, errs.ErrDecodeFailure.WrapMsg("delta payload", "area", area)
			}
			d.Data = b
		}
		out = append(out, d)
	}
	return out, nil
}
