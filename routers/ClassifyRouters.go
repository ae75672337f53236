package routers

import (
	"github.com/GrainArc/GeoClassify/metrics"
	"github.com/GrainArc/GeoClassify/resolver"
	"github.com/GrainArc/GeoClassify/views"
	"github.com/gin-gonic/gin"
)

func ClassifyRouters(r *gin.Engine, app *views.App) {
	queue := views.NewQueueHandler(app)
	imports := views.NewImportHandler(app)
	collections := views.NewCollectionHandler(app)
	matches := views.NewMatchHandler(app)
	files := views.NewFileHandler(app)

	r.GET("/next", queue.Next)
	r.POST("/start", queue.Start)
	r.POST("/stop", queue.Stop)
	r.POST("/recheck", queue.Recheck)
	r.GET("/check/:id", queue.Check)
	r.GET("/status", queue.Status)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	importRouter := r.Group("/import")
	{
		importRouter.POST("/new", imports.Import(resolver.MergeNew))
		importRouter.POST("/add", imports.Import(resolver.MergeAdd))
		importRouter.POST("/update", imports.Import(resolver.MergeUpdate))
		importRouter.POST("/merge/:mode", imports.Merge)
	}

	collectionRouter := r.Group("/collections")
	{
		collectionRouter.GET("/list", collections.List)
		collectionRouter.DELETE("/drop/:id", collections.Drop)
		collectionRouter.GET("/history/:id/:fid", collections.History)
	}

	matchRouter := r.Group("/matches")
	{
		matchRouter.GET("/list", matches.List)
		matchRouter.GET("/details/:id", matches.Details)
		matchRouter.GET("/columns/:id", matches.Columns)
		matchRouter.GET("/geojson/:id", matches.GeoJSON)
	}

	fileRouter := r.Group("/files")
	{
		fileRouter.POST("/upload", files.Upload)
	}
}
