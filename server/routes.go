// Package server - Status-Server fuer laufende Pipelines
// Beinhaltet: Server-Struct, Router-Registrierung, Status- und Timing-Endpunkte, Server-Start
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/augpipe/device"
	"github.com/ollama/augpipe/envconfig"
	"github.com/ollama/augpipe/pipeline"
)

var mode string = gin.DebugMode

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// Server haelt die beobachteten Pipelines in Anmelde-Reihenfolge
type Server struct {
	mu        sync.RWMutex
	pipelines *orderedmap.OrderedMap[uuid.UUID, *pipeline.Context]
}

func New() *Server {
	return &Server{pipelines: orderedmap.New[uuid.UUID, *pipeline.Context]()}
}

// Attach macht c ueber die Status-Endpunkte sichtbar
func (s *Server) Attach(c *pipeline.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines.Set(c.ID(), c)
}

// Detach entfernt die Pipeline mit der ID id
func (s *Server) Detach(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pipelines.Delete(id)
	return ok
}

func (s *Server) lookup(c *gin.Context) (*pipeline.Context, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid pipeline id"})
		return nil, false
	}

	s.mu.RLock()
	p, ok := s.pipelines.Get(id)
	s.mu.RUnlock()
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "pipeline " + id.String() + " not found"})
		return nil, false
	}
	return p, true
}

// ListHandler liefert den Status aller Pipelines
func (s *Server) ListHandler(c *gin.Context) {
	s.mu.RLock()
	statuses := make([]pipeline.Status, 0, s.pipelines.Len())
	for pair := s.pipelines.Oldest(); pair != nil; pair = pair.Next() {
		statuses = append(statuses, pair.Value.Status())
	}
	s.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{"pipelines": statuses})
}

func (s *Server) StatusHandler(c *gin.Context) {
	if p, ok := s.lookup(c); ok {
		c.JSON(http.StatusOK, p.Status())
	}
}

func (s *Server) TimingHandler(c *gin.Context) {
	if p, ok := s.lookup(c); ok {
		c.JSON(http.StatusOK, p.TimingInfo())
	}
}

// DefinitionHandler liefert den serialisierten Graphen einer gebauten Pipeline
func (s *Server) DefinitionHandler(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}

	def, err := p.Definition()
	switch {
	case errors.Is(err, pipeline.ErrNotBuilt), errors.Is(err, pipeline.ErrReleased):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, def)
	}
}

func (s *Server) DevicesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": device.GetDevices()})
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(cors.New(corsConfig))

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "augpipe is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "augpipe is running") })

	r.GET("/api/devices", s.DevicesHandler)
	r.GET("/api/pipelines", s.ListHandler)
	r.GET("/api/pipelines/:id", s.StatusHandler)
	r.GET("/api/pipelines/:id/timing", s.TimingHandler)
	r.GET("/api/pipelines/:id/definition", s.DefinitionHandler)

	return r
}

// Serve beantwortet Anfragen auf ln bis ctx endet
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srvr := &http.Server{Handler: s.GenerateRoutes()}

	go func() {
		<-ctx.Done()
		_ = srvr.Close()
	}()

	slog.Info("status server listening", "address", ln.Addr())
	if err := srvr.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
