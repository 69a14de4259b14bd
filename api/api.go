package api

import (
	"github.com/gin-gonic/gin"

	"github.com/adspacehq/adspace"
	"github.com/adspacehq/adspace/api/middleware"
	"github.com/adspacehq/adspace/config"
)

type Api struct {
	adspace *adspace.Adspace
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/settlements/run", a.TriggerSettlement)
	router.GET("/settlements/runs", a.GetRecentRuns)
	return a.router
}

func NewAPI(engine *adspace.Adspace) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.BearerAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{adspace: engine, router: r}
}
