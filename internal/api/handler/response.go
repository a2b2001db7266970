package handler

import (
	"github.com/cloudwego/hertz/pkg/app"
)

// 响应状态码：0成功，1业务失败，-1服务器错误
const (
	CodeSuccess = 0
	CodeFail    = 1
	CodeError   = -1
)

// Response 统一的API响应信封
type Response struct {
	StatusCode int         `json:"statusCode"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
}

// RespondSuccess 写入成功响应
func RespondSuccess(ctx *app.RequestContext, httpStatus int, message string, data interface{}) {
	ctx.JSON(httpStatus, Response{
		StatusCode: CodeSuccess,
		Message:    message,
		Data:       data,
	})
}

// RespondFail 写入业务失败响应（客户端可修正的错误）
func RespondFail(ctx *app.RequestContext, httpStatus int, message string) {
	ctx.JSON(httpStatus, Response{
		StatusCode: CodeFail,
		Message:    message,
	})
}

// RespondError 写入服务器错误响应
func RespondError(ctx *app.RequestContext, httpStatus int, message string) {
	ctx.JSON(httpStatus, Response{
		StatusCode: CodeError,
		Message:    message,
	})
}
