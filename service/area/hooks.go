package area

// Hooks 是 area 的模拟逻辑。OnMessage 必须实现，其余能力通过下面的可选接口发现。
// 所有回调都在 area 的事件循环上执行；回调里可以调用 Area 的投递类方法
// （Send、Commit、ReleaseWriter 等），不能调用 Members / Writer 这类查询方法。
type Hooks interface {
	// OnMessage 写者发来的 AREA_DATA
	OnMessage(a *Area, c Client, message any)
}

// GlobalHandler 任意会话发来的 GLOBAL_DATA，投递给所有 area
type GlobalHandler interface {
	OnGlobalMessage(a *Area, sessionID string, message any)
}

// ListenHandler 返回 error 拒绝监听；返回的 map 作为 responseOptions 回给 gateway
type ListenHandler interface {
	OnListen(a *Area, c Client, options map[string]any) (map[string]any, error)
}

type RemoveListenHandler interface {
	OnRemoveListen(a *Area, c Client, options map[string]any)
}

// WriteHandler 返回 error 拒绝成为写者
type WriteHandler interface {
	OnWrite(a *Area, c Client, options map[string]any) error
}

// ReleaseWriteHandler 写者离开：主动释放、换写目标或断开
type ReleaseWriteHandler interface {
	OnReleaseWrite(a *Area, c Client, options map[string]any)
}
