package logx

import "fmt"

// CronLogger adapts Logger to the robfig/cron Logger interface.
//
// cron emits its own bookkeeping (schedule/wake/run) at Info; those are
// demoted to Debug so a healthy poller stays quiet.
type CronLogger struct{ L Logger }

func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	if !c.L.Enabled(LevelDebug) {
		return
	}
	c.L.Debug(msg, kvFields(keysAndValues)...)
}

func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.L.Error(msg, append(kvFields(keysAndValues), Err(err))...)
}

func kvFields(kv []interface{}) []Field {
	out := make([]Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
