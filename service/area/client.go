package area

type Kind int

const (
	Listen Kind = iota
	Write
)

func (k Kind) String() string {
	if k == Write {
		return "write"
	}
	return "listen"
}

// Client 一个会话在本 area 的成员身份。FrontID 是持有该会话的 gateway 房间，
// 投递时按它分组发到 gate.<front>。
type Client struct {
	SessionID string
	FrontID   string
	Kind      Kind
	Options   map[string]any
}
