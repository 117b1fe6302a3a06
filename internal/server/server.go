package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/greenhouse/internal/config"
	"github.com/smallbiznis/greenhouse/internal/observability"
	obscontext "github.com/smallbiznis/greenhouse/internal/observability/context"
	obsmiddleware "github.com/smallbiznis/greenhouse/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/greenhouse/internal/observability/metrics"
	obstracing "github.com/smallbiznis/greenhouse/internal/observability/tracing"
	"github.com/smallbiznis/greenhouse/internal/ratelimit"
	sensordatadomain "github.com/smallbiznis/greenhouse/internal/sensordata/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	sensorDataSvc sensordatadomain.Service
	deviceLimiter *ratelimit.DeviceLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	SensorDataSvc sensordatadomain.Service
	DeviceLimiter *ratelimit.DeviceLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		sensorDataSvc: p.SensorDataSvc,
		deviceLimiter: p.DeviceLimiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	sensorData := api.Group("/sensor-data")
	{
		sensorData.POST("", withOperation("sensor_data.create"), s.DeviceRateLimit(), s.AddSensorData)
		sensorData.GET("/:id", withOperation("sensor_data.get"), s.GetSensorData)
		sensorData.PUT("/:id", withOperation("sensor_data.update"), s.DeviceRateLimit(), s.UpdateSensorData)
		sensorData.DELETE("/:id", withOperation("sensor_data.delete"), s.DeleteSensorData)
	}
}

// withOperation tags the request with the operation name reported by the
// request log, span and HTTP metrics.
func withOperation(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(obscontext.WithOperation(c.Request.Context(), name))
		c.Next()
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
