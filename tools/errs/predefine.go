package errs

const (
	ServerInternalError = 500
	ArgsError           = 1000

	PolicyRejected      = 1001 // 策略钩子拒绝
	ProtocolViolation   = 1002 // 协议错误，关闭连接
	DecodeFailure       = 1003 // 帧无法解码，丢弃
	CapacityExceeded    = 1004 // 房间满员或已锁定
	ReconnectionTimeout = 1005 // 重连窗口过期
	FabricUnavailable   = 1006 // 消息总线请求失败或超时
	UnknownArea         = 1007
	UnknownSession      = 1008
	Disposed            = 1009
	Disconnecting       = 1010
	WriterConflict      = 1011 // area 已有其他写者
	TokenInvalid        = 1501 // 管理接口令牌错误
)

var (
	ErrInternalServer      = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs                = NewCodeError(ArgsError, "ArgsError")
	ErrPolicyRejected      = NewCodeError(PolicyRejected, "PolicyRejected")
	ErrProtocolViolation   = NewCodeError(ProtocolViolation, "ProtocolViolation")
	ErrDecodeFailure       = NewCodeError(DecodeFailure, "DecodeFailure")
	ErrCapacityExceeded    = NewCodeError(CapacityExceeded, "CapacityExceeded")
	ErrReconnectionTimeout = NewCodeError(ReconnectionTimeout, "ReconnectionTimeout")
	ErrFabricUnavailable   = NewCodeError(FabricUnavailable, "FabricUnavailable")
	ErrUnknownArea         = NewCodeError(UnknownArea, "UnknownArea")
	ErrUnknownSession      = NewCodeError(UnknownSession, "UnknownSession")
	ErrDisposed            = NewCodeError(Disposed, "Disposed")
	ErrDisconnecting       = NewCodeError(Disconnecting, "Disconnecting")
	ErrWriterConflict      = NewCodeError(WriterConflict, "WriterConflict")
	ErrTokenInvalid        = NewCodeError(TokenInvalid, "TokenInvalid")
)

func init() {
	// 写者冲突属于策略拒绝的一种
	_ = DefaultCodeRelation.Add(PolicyRejected, WriterConflict)
}
