package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const responseMetaKey = "response_meta"

type responseMeta struct {
	start  time.Time
	values map[string]interface{}
}

// WithResponseMeta lets handlers attach values to the envelope meta block,
// e.g. a routing failure reported next to a saved request.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(responseMetaKey, &responseMeta{start: time.Now(), values: map[string]interface{}{}})
		c.Next()
	}
}

// SetMeta records a value for the envelope meta block.
func SetMeta(c *gin.Context, key string, value interface{}) {
	if m := metaFrom(c); m != nil {
		m.values[key] = value
	}
}

// ExtractMeta returns the recorded values plus processing_time_ms, or nil when
// the handler recorded nothing.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	m := metaFrom(c)
	if m == nil || len(m.values) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(m.values)+1)
	for k, v := range m.values {
		out[k] = v
	}
	out["processing_time_ms"] = time.Since(m.start).Milliseconds()
	return out
}

// MergeMeta combines values supplied by the handler with anything recorded
// through SetMeta. It works with or without WithResponseMeta installed.
func MergeMeta(c *gin.Context, values map[string]interface{}) map[string]interface{} {
	out := ExtractMeta(c)
	if out == nil {
		if len(values) == 0 {
			return nil
		}
		out = make(map[string]interface{}, len(values)+1)
		if m := metaFrom(c); m != nil {
			out["processing_time_ms"] = time.Since(m.start).Milliseconds()
		}
	}
	for k, v := range values {
		out[k] = v
	}
	return out
}

func metaFrom(c *gin.Context) *responseMeta {
	if c == nil {
		return nil
	}
	value, ok := c.Get(responseMetaKey)
	if !ok {
		return nil
	}
	m, _ := value.(*responseMeta)
	return m
}
