package httptransport

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"voice-server-go/internal/platform/config"
	"voice-server-go/internal/platform/errors"
	"voice-server-go/internal/platform/logging"
	"voice-server-go/internal/platform/observability"
)

type Options struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *observability.Metrics
	// VoiceRoot is served read-only under /voices when set.
	VoiceRoot string
}

// Router is the gin engine plus the /api group handlers register on.
type Router struct {
	Engine *gin.Engine
	API    *gin.RouterGroup
}

// quietPaths are logged at debug level only.
var quietPaths = map[string]bool{"/api/health": true, "/metrics": true}

func Build(opts Options) (*Router, error) {
	if opts.Config == nil {
		return nil, errors.New(errors.KindTransport, "http.build", "router requires config")
	}

	mode := gin.ReleaseMode
	if opts.Config.Log.Level == "debug" {
		mode = gin.DebugMode
	}
	gin.SetMode(mode)

	engine := gin.New()
	_ = engine.SetTrustedProxies(nil)
	engine.Use(
		gin.Recovery(),
		requestMiddleware(opts.Logger, opts.Metrics),
		cors.New(corsConfig(opts.Config.Server.CORSOrigins)),
	)

	if opts.VoiceRoot != "" {
		engine.Use(static.Serve("/voices", static.LocalFile(opts.VoiceRoot, false)))
	}
	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	return &Router{Engine: engine, API: engine.Group("/api")}, nil
}

// corsConfig allows any origin for an empty list or "*"; otherwise only
// the listed origins, with credentials.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "Client-Id"},
		ExposeHeaders: []string{"Content-Length", headerSampleRate, headerChannels, headerDurationMs, headerProvider},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// requestMiddleware wraps each request in a span, logs it and records
// the request metric under the matched route.
func requestMiddleware(logger *logging.Logger, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, endSpan := observability.StartSpan(c.Request.Context(), "http.server", route)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		status := c.Writer.Status()

		var failure error
		switch {
		case len(c.Errors) > 0:
			failure = c.Errors.Last().Err
		case status >= http.StatusInternalServerError:
			failure = fmt.Errorf("status %d", status)
		}
		endSpan(failure)
		metrics.HTTPRequest(c.Request.Method, route, strconv.Itoa(status), elapsed.Seconds())

		line := "%s %s -> %d (%s)"
		switch {
		case status >= http.StatusInternalServerError:
			logger.WarnTag("HTTP", line, c.Request.Method, c.Request.URL.Path, status, elapsed)
		case quietPaths[route]:
			logger.DebugTag("HTTP", line, c.Request.Method, c.Request.URL.Path, status, elapsed)
		default:
			logger.InfoTag("HTTP", line, c.Request.Method, c.Request.URL.Path, status, elapsed)
		}
	}
}
