package logger

import "go.uber.org/zap"

// NewZapLog wraps a log so that every message is also written to the
// structured logger. The wrapped log still owns the message store.
func NewZapLog(inner Log, z *zap.Logger) Log {
	if z == nil {
		return inner
	}
	z = z.WithOptions(zap.AddCallerSkip(1))

	return Log{
		AddMsg: func(msg Msg) {
			fields := []zap.Field{zap.String("kind", msg.Kind.String())}
			if msg.ID != MsgID_None {
				fields = append(fields, zap.String("id", MsgIDToString(msg.ID)))
			}
			if msg.Location != nil {
				fields = append(fields,
					zap.String("file", msg.Location.File),
					zap.Int("line", msg.Location.Line),
					zap.Int("column", msg.Location.Column))
			}
			switch msg.Kind {
			case Error:
				z.Error(msg.Text, fields...)
			case Warning:
				z.Warn(msg.Text, fields...)
			case Info:
				z.Info(msg.Text, fields...)
			default:
				z.Debug(msg.Text, fields...)
			}
			inner.AddMsg(msg)
		},
		HasErrors: inner.HasErrors,
		Peek:      inner.Peek,
		Done:      inner.Done,
	}
}
