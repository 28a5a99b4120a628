package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Result 前端统一响应包
// - code: 成功为 2000，失败为 -1
// - type: 'success' | 'error'
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

func writeOk[T any](c *gin.Context, result T) {
	c.JSON(http.StatusOK, Ok(result))
}

func writeFail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Fail(message))
}
