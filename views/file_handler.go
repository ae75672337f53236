package views

import (
	"os"
	"path/filepath"
	"time"

	"github.com/GrainArc/GeoClassify/Transformer"
	"github.com/GrainArc/GeoClassify/logger"
	"github.com/GrainArc/GeoClassify/response"
	"github.com/GrainArc/GeoClassify/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type FileHandler struct {
	files     *services.ImportFileService
	uploadDir string
	log       *logger.Logger
}

func NewFileHandler(app *App) *FileHandler {
	log := app.Log
	if log == nil {
		log = logger.Nop()
	}
	return &FileHandler{files: services.NewImportFileService(app.DB), uploadDir: app.UploadDir, log: log}
}

// parseTimestamp 支持 RFC3339 与日期两种写法，为空时取当前时间
func parseTimestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", v)
}

// Upload 上传数据文件并登记到导入队列
// @Accept multipart/form-data
// @Param file formData file true "数据文件(GeoJSON/Shapefile 压缩包/KML)"
// @Param license formData string false "数据许可"
// @Param timestamp formData string false "数据时间(RFC3339 或 2006-01-02)"
func (h *FileHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "请选择要上传的文件")
		return
	}
	name := filepath.Base(file.Filename)
	if !Transformer.Supported(name) {
		response.BadRequest(c, "不支持的文件格式: "+filepath.Ext(name))
		return
	}
	ts, err := parseTimestamp(c.PostForm("timestamp"))
	if err != nil {
		response.BadRequest(c, "timestamp参数格式错误")
		return
	}

	dir := filepath.Join(h.uploadDir, uuid.NewString())
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		response.InternalError(c, err.Error())
		return
	}
	dst := filepath.Join(dir, name)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		response.InternalError(c, "保存文件失败: "+err.Error())
		return
	}

	record, err := h.files.Register(c.Request.Context(), services.RegisterInput{
		Name:      name,
		Path:      dst,
		Size:      file.Size,
		License:   c.PostForm("license"),
		Timestamp: ts,
	})
	if err != nil {
		os.RemoveAll(dir)
		response.InternalError(c, err.Error())
		return
	}
	h.log.Info("import file registered", "id", record.ID, "name", name, "size", file.Size)
	response.SuccessWithMessage(c, "上传成功", record)
}
