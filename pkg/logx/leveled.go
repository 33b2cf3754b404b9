package logx

// Leveled adapts a Logger to the key/value style used by HTTP client
// libraries (Error/Info/Debug/Warn with alternating keys and values).
type Leveled struct{ L Logger }

func (a Leveled) Error(msg string, kv ...interface{}) { a.L.Error(msg, kvFields(kv)...) }
func (a Leveled) Warn(msg string, kv ...interface{})  { a.L.Warn(msg, kvFields(kv)...) }
func (a Leveled) Info(msg string, kv ...interface{})  { a.L.Debug(msg, kvFields(kv)...) }
func (a Leveled) Debug(msg string, kv ...interface{}) { a.L.Trace(msg, kvFields(kv)...) }

func kvFields(kv []interface{}) []Field {
	out := make([]Field, 0, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = "arg"
		}
		if i+1 >= len(kv) {
			out = append(out, Any(k, nil))
			break
		}
		if err, ok := kv[i+1].(error); ok {
			out = append(out, String(k, err.Error()))
			continue
		}
		out = append(out, Any(k, kv[i+1]))
	}
	return out
}
