package views

import (
	"errors"
	"strconv"

	"github.com/GrainArc/GeoClassify/logger"
	"github.com/GrainArc/GeoClassify/pipeline"
	"github.com/GrainArc/GeoClassify/response"
	"github.com/GrainArc/GeoClassify/spatial"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// App 接口层依赖
type App struct {
	DB        *gorm.DB
	Provider  spatial.Provider
	Pipeline  *pipeline.Pipeline
	UploadDir string
	Log       *logger.Logger
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, name+"参数格式错误")
		return 0, false
	}
	return uint(id), true
}

// pipelineError 流程错误：正在运行或队列已满返回 409
func pipelineError(c *gin.Context, err error) {
	if errors.Is(err, pipeline.ErrBusy) || errors.Is(err, pipeline.ErrQueueFull) {
		response.Conflict(c, err.Error())
		return
	}
	response.FromError(c, err)
}
