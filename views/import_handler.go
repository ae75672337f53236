package views

import (
	"github.com/GrainArc/GeoClassify/pipeline"
	"github.com/GrainArc/GeoClassify/resolver"
	"github.com/GrainArc/GeoClassify/response"
	"github.com/gin-gonic/gin"
)

// ImportHandler 人工处理待处理匹配
type ImportHandler struct {
	pipeline *pipeline.Pipeline
}

func NewImportHandler(app *App) *ImportHandler {
	return &ImportHandler{pipeline: app.Pipeline}
}

type importRequest struct {
	MatchID      uint   `json:"match_id" binding:"required"`
	CollectionID *uint  `json:"collection_id"`
	Name         string `json:"name"`
}

// Import 按固定合并方式入库
func (h *ImportHandler) Import(strategy resolver.MergeStrategy) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.run(c, strategy)
	}
}

// Merge 合并到已有集合，mode 为 skip 或 replace
func (h *ImportHandler) Merge(c *gin.Context) {
	strategy, err := resolver.ParseMergeStrategy(c.Param("mode"))
	if err != nil || (strategy != resolver.MergeSkip && strategy != resolver.MergeReplace) {
		response.BadRequest(c, "mode 只能为 skip 或 replace")
		return
	}
	h.run(c, strategy)
}

func (h *ImportHandler) run(c *gin.Context, strategy resolver.MergeStrategy) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	out, err := h.pipeline.Import(c.Request.Context(), pipeline.ManualInput{
		MatchID:      req.MatchID,
		CollectionID: req.CollectionID,
		Strategy:     strategy,
		Name:         req.Name,
	})
	if err != nil {
		pipelineError(c, err)
		return
	}
	response.SuccessWithMessage(c, "导入成功", out)
}
