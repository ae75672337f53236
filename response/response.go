package response

import (
	"errors"
	"net/http"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 200, Message: "success", Data: data})
}

func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 200, Message: message, Data: data})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{Code: code, Message: message})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, http.StatusConflict, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}

// FromError 按错误类型选择状态码：输入错误 400，记录不存在 404，其余 500
func FromError(c *gin.Context, err error) {
	switch {
	case errs.IsInput(err):
		BadRequest(c, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		NotFound(c, err.Error())
	default:
		InternalError(c, err.Error())
	}
}
