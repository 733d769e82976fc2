package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
)

// sanitizeBase normalizes a base path: leading '/', no trailing '/', empty
// string for root.
func sanitizeBase(p string) string {
	p = "/" + strings.Trim(strings.TrimSpace(p), "/")
	if p == "/" {
		return ""
	}
	return p
}

// boolQuery interprets the usual truthy spellings of a query flag.
func boolQuery(c *gin.Context, key string) bool {
	switch strings.ToLower(c.Query(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeJSON(c *gin.Context, status int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(status)
	if err := json.NewEncoder(c.Writer).Encode(v); err != nil {
		_ = c.Error(err)
	}
}
