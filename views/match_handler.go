package views

import (
	"net/http"
	"strconv"

	"github.com/GrainArc/GeoClassify/pipeline"
	"github.com/GrainArc/GeoClassify/response"
	"github.com/GrainArc/GeoClassify/services"
	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
	"github.com/paulmach/orb/simplify"
)

type MatchHandler struct {
	service  *services.MatchService
	pipeline *pipeline.Pipeline
}

func NewMatchHandler(app *App) *MatchHandler {
	return &MatchHandler{service: services.NewMatchService(app.DB), pipeline: app.Pipeline}
}

// List 匹配记录，默认只返回未处理的，all=true 返回全部
func (h *MatchHandler) List(c *gin.Context) {
	all, _ := strconv.ParseBool(c.DefaultQuery("all", "false"))
	list, err := h.service.List(c.Request.Context(), !all)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, list)
}

// Details 匹配记录与匹配矩阵
func (h *MatchHandler) Details(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	m, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	matrix, err := h.service.Matrix(m)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"match": m, "matrix": matrix})
}

// Columns 匹配文件的列定义
func (h *MatchHandler) Columns(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	m, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	cols, err := h.service.Columns(m)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, cols)
}

// GeoJSON 匹配文件的候选几何，简化后以 WGS84 输出，tolerance 为简化阈值（米）
func (h *MatchHandler) GeoJSON(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	tolerance, err := strconv.ParseFloat(c.DefaultQuery("tolerance", "1"), 64)
	if err != nil || tolerance < 0 {
		response.BadRequest(c, "tolerance参数格式错误")
		return
	}
	m, set, err := h.pipeline.Load(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	matrix, err := h.service.Matrix(m)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	matched := make(map[uint64][]float64, len(matrix))
	for _, row := range matrix {
		if len(row) == 3 && len(row[0]) == 1 && len(row[1]) == 2 && len(row[2]) == 1 {
			matched[uint64(row[0][0])] = []float64{row[1][1], row[2][0]}
		}
	}

	fc := geojson.NewFeatureCollection()
	for _, f := range set.Features {
		g := orb.Clone(f.Geometry)
		if tolerance > 0 {
			g = simplify.DouglasPeucker(tolerance).Simplify(g)
		}
		g = project.Geometry(g, project.Mercator.ToWGS84)
		feature := geojson.NewFeature(g)
		feature.Properties["fid"] = f.FID
		if hit, ok := matched[f.FID]; ok {
			feature.Properties["canonical_fid"] = uint64(hit[0])
			feature.Properties["distance"] = hit[1]
		}
		fc.Append(feature)
	}
	c.JSON(http.StatusOK, fc)
}
