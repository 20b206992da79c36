// Package httpapi is the command surface of spec section 6: a gin router
// exposing one POST endpoint per Op over the Queue Manager, a GET endpoint
// for device listing and per-device snapshots, and an SSE stream over the
// Event Bus. Grounded on the teacher's cmd/driver/hasher-host/main.go
// runAPIServer (gin.SetMode(gin.ReleaseMode), a /api/v1 route group,
// signal-triggered graceful shutdown via http.Server.Shutdown).
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"keepkeyd/internal/eventbus"
	"keepkeyd/internal/queue"
	"keepkeyd/internal/worker"
)

// Server wraps the gin router and the http.Server driving it.
type Server struct {
	mgr *queue.Manager
	bus *eventbus.Bus
	log zerolog.Logger

	requestTimeout func(op string) time.Duration

	router *gin.Engine
	http   *http.Server
}

// New builds a Server. opTimeout resolves a per-op deadline the way
// config.Config.OpTimeout does; handlers pass it to worker.NewRequest so a
// slow device can't hold an HTTP request open indefinitely.
func New(addr string, mgr *queue.Manager, bus *eventbus.Bus, log zerolog.Logger, opTimeout func(op string) time.Duration) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		mgr:            mgr,
		bus:            bus,
		log:            log,
		requestTimeout: opTimeout,
		router:         router,
		http:           &http.Server{Addr: addr, Handler: router},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.Group("/api/v1")
	{
		api.GET("/devices", s.handleListDevices)
		api.GET("/devices/:device_id", s.handleDeviceSnapshot)

		api.POST("/devices/:device_id/get_features", s.opHandler(worker.OpGetFeatures, decodeNone))
		api.POST("/devices/:device_id/get_address", s.opHandler(worker.OpGetAddress, decodeGetAddress))
		api.POST("/devices/:device_id/sign_transaction", s.opHandler(worker.OpSignTransaction, decodeSignTransaction))
		api.POST("/devices/:device_id/wipe_device", s.opHandler(worker.OpWipeDevice, decodeNone))
		api.POST("/devices/:device_id/set_label", s.opHandler(worker.OpSetLabel, decodeSetLabel))
		api.POST("/devices/:device_id/initialize", s.opHandler(worker.OpInitialize, decodeInitialize))
		api.POST("/devices/:device_id/change_pin", s.opHandler(worker.OpChangePin, decodeNone))
		api.POST("/devices/:device_id/start_recovery", s.opHandler(worker.OpStartRecovery, decodeNone))
		api.POST("/devices/:device_id/verify_seed", s.opHandler(worker.OpVerifySeed, decodeNone))
		api.POST("/devices/:device_id/update_bootloader", s.opHandler(worker.OpUpdateBootloader, decodeFirmwarePayload))
		api.POST("/devices/:device_id/update_firmware", s.opHandler(worker.OpUpdateFirmware, decodeFirmwarePayload))
		api.POST("/devices/:device_id/get_entropy", s.opHandler(worker.OpGetEntropy, decodeGetEntropy))
		api.POST("/devices/:device_id/apply_policy", s.opHandler(worker.OpApplyPolicy, decodeApplyPolicy))

		api.POST("/devices/:device_id/submit_pin", s.opHandler(worker.OpSubmitPin, decodeContinuation))
		api.POST("/devices/:device_id/submit_passphrase", s.opHandler(worker.OpSubmitPassphrase, decodeContinuation))
		api.POST("/devices/:device_id/submit_cipher_word", s.opHandler(worker.OpSubmitCipherWord, decodeContinuation))
		api.POST("/devices/:device_id/cancel_flow", s.opHandler(worker.OpCancelFlow, decodeNone))

		api.DELETE("/devices/:device_id", s.handleShutdownDevice)

		api.GET("/events", s.handleEvents)
	}
}

// Start begins serving in the background. ListenAndServe errors other than
// the expected shutdown sentinel are logged, matching the teacher's
// log.Fatalf-on-unexpected-error shape, minus the process-killing Fatalf —
// a daemon shouldn't die because one listener failed after other
// subsystems are already running.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("http api listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http api server error")
		}
	}()
}

// Shutdown drains in-flight requests and stops the listener, per the
// teacher's srv.Shutdown(ctx) pattern.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
