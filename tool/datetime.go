package tool

import "time"

// NewDatetimeTool returns a tool reporting the current date and time. The
// clock is injected so tests can pin the result; nil uses time.Now.
func NewDatetimeTool(now func() time.Time) *FunctionTool {
	if now == nil {
		now = time.Now
	}

	return NewFunctionTool(
		"get_datetime",
		"Return the current date and time",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		func(_ *Context, _ map[string]any) (any, error) {
			return now().Format("2006-01-02 15:04:05"), nil
		},
	)
}
