package views

import (
	"strconv"

	"github.com/GrainArc/GeoClassify/response"
	"github.com/GrainArc/GeoClassify/services"
	"github.com/gin-gonic/gin"
)

type CollectionHandler struct {
	service   *services.CollectionService
	snapshots *services.SnapshotService
}

func NewCollectionHandler(app *App) *CollectionHandler {
	return &CollectionHandler{
		service:   services.NewCollectionService(app.DB, app.Provider),
		snapshots: services.NewSnapshotService(app.DB),
	}
}

// List 集合列表
func (h *CollectionHandler) List(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, list)
}

// Drop 删除集合及其全部数据
func (h *CollectionHandler) Drop(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Drop(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", gin.H{"id": id})
}

// History 要素属性快照历史
func (h *CollectionHandler) History(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	fid, err := strconv.ParseUint(c.Param("fid"), 10, 64)
	if err != nil {
		response.BadRequest(c, "fid参数格式错误")
		return
	}
	if _, err := h.service.Get(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	rows, err := h.snapshots.History(c.Request.Context(), id, fid)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, rows)
}
