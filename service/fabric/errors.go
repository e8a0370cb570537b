package fabric

import "PPGate/tools/errs"

var (
	ErrNoReply     = errs.NewCodeError(errs.ArgsError, "message has no reply subject")
	ErrNoResponder = errs.ErrFabricUnavailable.WithDetail("no responders")
	ErrClosed      = errs.ErrFabricUnavailable.WithDetail("fabric closed")
	ErrBadSubject  = errs.NewCodeError(errs.ArgsError, "invalid subject")
)
