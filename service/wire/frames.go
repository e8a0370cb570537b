// Package wire encodes the array frames exchanged with clients and between
// gateways and shards: [kind, arg0, arg1, ...] serialized as a protobuf
// ListValue in its JSON form. Byte payloads travel as base64 strings.
package wire

import (
	"encoding/base64"
	"fmt"

	"PPGate/tools/errs"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type Kind int

// 客户端可见的帧
const (
	JoinAck      Kind = 10
	JoinError    Kind = 11
	Leave        Kind = 12
	RoomData     Kind = 13
	AreaData     Kind = 18
	GlobalData   Kind = 20
	AddListen    Kind = 21
	RemoveListen Kind = 22
	ChangeWrite  Kind = 23
	StateUpdates Kind = 24
)

// gateway <-> shard 之间的帧，只走消息总线
const (
	Link          Kind = 30
	Unlink        Kind = 31
	Write         Kind = 32
	ReleaseWrite  Kind = 33
	StatePatch    Kind = 34
	WriteReleased Kind = 35
	ReplyOK       Kind = 40
	ReplyError    Kind = 41
)

var kindNames = map[Kind]string{
	JoinAck: "JOIN_ACK", JoinError: "JOIN_ERROR", Leave: "LEAVE", RoomData: "ROOM_DATA",
	AreaData: "AREA_DATA", GlobalData: "GLOBAL_DATA", AddListen: "ADD_LISTEN",
	RemoveListen: "REMOVE_LISTEN", ChangeWrite: "CHANGE_WRITE", StateUpdates: "STATE_UPDATES",
	Link: "LINK", Unlink: "UNLINK", Write: "WRITE", ReleaseWrite: "RELEASE_WRITE",
	StatePatch: "STATE_PATCH", WriteReleased: "WRITE_RELEASED", ReplyOK: "REPLY_OK", ReplyError: "REPLY_ERROR",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// FromClient 客户端允许发送的帧
func (k Kind) FromClient() bool {
	switch k {
	case Leave, RoomData, AreaData, GlobalData, AddListen, RemoveListen, ChangeWrite:
		return true
	}
	return false
}

type Frame struct {
	Kind Kind
	Args []any
}

// Encode 组帧。参数支持 structpb.NewValue 能接受的类型，另外处理
// []string、[]Delta、Kind、DeltaKind。
func Encode(kind Kind, args ...any) ([]byte, error) {
	values := make([]any, 0, len(args)+1)
	values = append(values, int(kind))
	for _, a := range args {
		values = append(values, normalize(a))
	}
	list, err := structpb.NewList(values)
	if err != nil {
		return nil, errs.WrapMsg(err, "encode frame", "kind", kind)
	}
	return protojson.Marshal(list)
}

// MustEncode 只用于参数全部是已知安全类型的场景
func MustEncode(kind Kind, args ...any) []byte {
	b, err := Encode(kind, args...)
	if err != nil {
		panic(err)
	}
	return b
}

func normalize(a any) any {
	switch v := a.(type) {
	case Kind:
		return int(v)
	case DeltaKind:
		return int(v)
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []Delta:
		out := make([]any, len(v))
		for i, d := range v {
			out[i] = []any{int(d.Kind), d.AreaID, d.Seq, d.Data}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = normalize(x)
		}
		return out
	}
	return a
}

func Decode(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, errs.ErrDecodeFailure.WrapMsg("empty frame")
	}
	var list structpb.ListValue
	if err := protojson.Unmarshal(data, &list); err != nil {
		return nil, errs.ErrDecodeFailure.WrapMsg(err.Error())
	}
	values := list.AsSlice()
	if len(values) == 0 {
		return nil, errs.ErrDecodeFailure.WrapMsg("frame without kind")
	}
	k, ok := values[0].(float64)
	if !ok || k != float64(int(k)) {
		return nil, errs.ErrDecodeFailure.WrapMsg("bad kind", "value", values[0])
	}
	return &Frame{Kind: Kind(k), Args: values[1:]}, nil
}

func (f *Frame) Len() int { return len(f.Args) }

// Value 越界返回 nil
func (f *Frame) Value(i int) any {
	if i < 0 || i >= len(f.Args) {
		return nil
	}
	return f.Args[i]
}

func (f *Frame) argErr(i int, want string) error {
	return errs.ErrDecodeFailure.WrapMsg("bad argument", "kind", f.Kind, "index", i, "want", want, "got", fmt.Sprintf("%T", f.Value(i)))
}

func (f *Frame) String(i int) (string, error) {
	s, ok := f.Value(i).(string)
	if !ok || s == "" {
		return "", f.argErr(i, "string")
	}
	return s, nil
}

// Bytes nil 参数返回 nil
func (f *Frame) Bytes(i int) ([]byte, error) {
	switch v := f.Value(i).(type) {
	case nil:
		return nil, nil
	case string:
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, f.argErr(i, "base64")
		}
		return b, nil
	}
	return nil, f.argErr(i, "bytes")
}

// Map nil 参数返回 nil
func (f *Frame) Map(i int) (map[string]any, error) {
	switch v := f.Value(i).(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	}
	return nil, f.argErr(i, "object")
}

func (f *Frame) Strings(i int) ([]string, error) {
	switch v := f.Value(i).(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			s, ok := x.(string)
			if !ok {
				return nil, f.argErr(i, "string list")
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, f.argErr(i, "string list")
}

func (f *Frame) Uint64(i int) (uint64, error) {
	v, ok := f.Value(i).(float64)
	if !ok || v < 0 {
		return 0, f.argErr(i, "unsigned number")
	}
	return uint64(v), nil
}

func (f *Frame) Int(i int) (int, error) {
	v, ok := f.Value(i).(float64)
	if !ok {
		return 0, f.argErr(i, "number")
	}
	return int(v), nil
}

// Check 提前验证一个消息体能否编码，避免异步投递时才发现
func Check(v any) error {
	if _, err := structpb.NewValue(normalize(v)); err != nil {
		return errs.ErrArgs.WrapMsg("payload not encodable", "type", fmt.Sprintf("%T", v), "err", err)
	}
	return nil
}
