// Package httpapi is Tycho's external HTTP surface: four POST routes over
// the Engine (§6 External Interfaces).
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	tychoerrors "github.com/stevencox/tycho/internal/errors"
	"github.com/stevencox/tycho/internal/logger"
	"github.com/stevencox/tycho/internal/middleware"
	"github.com/stevencox/tycho/internal/tycho/engine"
	"github.com/stevencox/tycho/internal/tycho/model"
)

// NewRouter builds the Gin engine with middleware and routes wired to e.
func NewRouter(e *engine.Engine) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.StructuredLoggerWithConfigFunc(middleware.DefaultStructuredLoggerConfig()))
	router.Use(middleware.TimeoutWithDuration(60 * time.Second))
	router.Use(middleware.JSONSizeLimiter())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	system := router.Group("/system")
	{
		system.POST("/start", handleStart(e))
		system.POST("/status", handleStatus(e))
		system.POST("/delete", handleDelete(e))
		system.POST("/modify", handleModify(e))
	}

	return router
}

type startRequestBody struct {
	Name           string                 `json:"name"`
	AppID          string                 `json:"app_id"`
	System         map[string]interface{} `json:"system"`
	SystemYAML     string                 `json:"system_yaml"`
	Env            map[string]string      `json:"env"`
	Services       []serviceSpecBody      `json:"services"`
	Principal      principalBody          `json:"principal"`
	ServiceAccount string                 `json:"service_account"`
	ConnString     string                 `json:"conn_string"`
}

// serviceSpecBody is one entry of the "services" JSON array; encoded as an
// array (not an object keyed by service name) so declaration order survives
// JSON decoding the way a Go map's would not.
type serviceSpecBody struct {
	Name    string   `json:"name"`
	Port    int32    `json:"port"`
	Clients []string `json:"clients"`
}

type principalBody struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

func handleStart(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body startRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			writeError(c, tychoerrors.InvalidComposeErr(err.Error()))
			return
		}

		composeText := body.SystemYAML
		if composeText == "" && body.System != nil {
			composeText = toYAML(body.System)
		}

		result, err := e.Start(c.Request.Context(), engine.StartRequest{
			Name:           body.Name,
			AppID:          body.AppID,
			System:         composeText,
			Env:            body.Env,
			Services:       toServiceSpecs(body.Services),
			Principal:      model.Principal{Username: body.Principal.Username, Token: body.Principal.Token},
			ServiceAccount: body.ServiceAccount,
			ConnString:     body.ConnString,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "system started",
			"result":  result,
		})
	}
}

type statusRequestBody struct {
	Name string `json:"name"`
}

func handleStatus(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body statusRequestBody
		_ = c.ShouldBindJSON(&body) // empty body means "all systems"

		result, err := e.Status(c.Request.Context(), body.Name)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "result": result})
	}
}

type deleteRequestBody struct {
	Name string `json:"name"`
}

func handleDelete(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body deleteRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			writeError(c, tychoerrors.InvalidComposeErr(err.Error()))
			return
		}

		if err := e.Delete(c.Request.Context(), body.Name); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "system deleted"})
	}
}

type modifyRequestBody struct {
	GUID      string            `json:"guid"`
	Labels    map[string]string `json:"labels"`
	Replicas  *int32            `json:"replicas"`
	Resources *model.Resources  `json:"resources"`
}

func handleModify(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body modifyRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			writeError(c, tychoerrors.InvalidComposeErr(err.Error()))
			return
		}

		err := e.Modify(c.Request.Context(), model.Modification{
			GUID:      body.GUID,
			Replicas:  body.Replicas,
			Labels:    body.Labels,
			Resources: body.Resources,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "system modified"})
	}
}

func toServiceSpecs(in []serviceSpecBody) []model.ServiceSpec {
	if in == nil {
		return nil
	}
	out := make([]model.ServiceSpec, 0, len(in))
	for _, s := range in {
		out = append(out, model.ServiceSpec{Name: s.Name, Port: s.Port, Clients: s.Clients})
	}
	return out
}

func toYAML(v map[string]interface{}) string {
	data, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func writeError(c *gin.Context, err error) {
	var appErr *tychoerrors.AppError
	if !errors.As(err, &appErr) {
		appErr = tychoerrors.InternalErr(err)
	}
	logger.HTTP().Error().Err(err).Str("kind", string(appErr.Kind)).Msg("request failed")
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}
