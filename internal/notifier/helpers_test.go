package notifier

import logx "reviewbot/pkg/logx"

func logxNop() logx.Logger { return logx.Nop() }
