package views

import (
	"errors"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/pipeline"
	"github.com/GrainArc/GeoClassify/response"
	"github.com/GrainArc/GeoClassify/services"
	"github.com/gin-gonic/gin"
)

// QueueHandler 导入队列与后台分类
type QueueHandler struct {
	pipeline *pipeline.Pipeline
	files    *services.ImportFileService
	matches  *services.MatchService
}

func NewQueueHandler(app *App) *QueueHandler {
	return &QueueHandler{
		pipeline: app.Pipeline,
		files:    services.NewImportFileService(app.DB),
		matches:  services.NewMatchService(app.DB),
	}
}

// Next 处理最早的待处理文件
func (h *QueueHandler) Next(c *gin.Context) {
	out, err := h.pipeline.Next(c.Request.Context())
	if errors.Is(err, errs.ErrNotFound) {
		response.SuccessWithMessage(c, "没有待处理的文件", nil)
		return
	}
	if err != nil {
		pipelineError(c, err)
		return
	}
	response.Success(c, out)
}

// Start 启动后台分类
func (h *QueueHandler) Start(c *gin.Context) {
	if !h.pipeline.Start() {
		response.SuccessWithMessage(c, "后台分类已在运行", gin.H{"running": true})
		return
	}
	response.SuccessWithMessage(c, "后台分类已启动", gin.H{"running": true})
}

// Stop 停止后台分类
func (h *QueueHandler) Stop(c *gin.Context) {
	if !h.pipeline.Stop() {
		response.SuccessWithMessage(c, "后台分类未运行", gin.H{"running": false})
		return
	}
	response.SuccessWithMessage(c, "后台分类已停止", gin.H{"running": false})
}

// Recheck 将存疑与失败的文件放回队列
func (h *QueueHandler) Recheck(c *gin.Context) {
	n, err := h.files.Recheck(c.Request.Context())
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"requeued": n})
}

// Check 只做匹配不写入
func (h *QueueHandler) Check(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	preview, err := h.pipeline.Check(c.Request.Context(), id)
	if err != nil {
		pipelineError(c, err)
		return
	}
	response.Success(c, preview)
}

// Status 各状态文件数与待处理匹配数
func (h *QueueHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := h.files.Count(ctx)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	pending, err := h.matches.Pending(ctx)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"running":         h.pipeline.Running(),
		"files":           counts,
		"pending_matches": pending,
	})
}
