package fleetmock

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/client/apiclient"
	"github.com/dmitrijs2005/fleetsync/internal/common"
	"github.com/dmitrijs2005/fleetsync/internal/logging"
	"github.com/gin-gonic/gin"
)

// Problem is the error body returned by every failing endpoint.
type Problem struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// Handler serves the fleet REST API from a Store.
type Handler struct {
	store     *Store
	secretKey []byte
	log       logging.Logger
	available atomic.Bool

	onAvailability func(bool)
}

func NewHandler(store *Store, secretKey []byte, log logging.Logger) *Handler {
	h := &Handler{store: store, secretKey: secretKey, log: log}
	h.available.Store(true)
	return h
}

// SetAvailable switches outage simulation: while false every request,
// ping included, answers 503.
func (h *Handler) SetAvailable(v bool) {
	h.available.Store(v)
	if h.onAvailability != nil {
		h.onAvailability(v)
	}
}

func (h *Handler) Available() bool { return h.available.Load() }

// OnAvailability registers a callback invoked by SetAvailable.
func (h *Handler) OnAvailability(fn func(bool)) { h.onAvailability = fn }

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, Problem{Status: status, Title: http.StatusText(status), Detail: detail})
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"status", status,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		ctx := c.Request.Context()
		switch {
		case status >= 500:
			h.log.Error(ctx, "http request", fields...)
		case status >= 400:
			h.log.Warn(ctx, "http request", fields...)
		default:
			h.log.Debug(ctx, "http request", fields...)
		}
	}
}

func (h *Handler) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				h.log.Error(c.Request.Context(), "panic recovered", "error", err, "path", c.Request.URL.Path, "stack", string(debug.Stack()))
				abort(c, http.StatusInternalServerError, "")
			}
		}()
		c.Next()
	}
}

func (h *Handler) outage() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.available.Load() {
			abort(c, http.StatusServiceUnavailable, "simulated outage")
			return
		}
		c.Next()
	}
}

func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(h.secretKey) == 0 {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader(common.AuthorizationHeaderName), "Bearer ")
		if !ok {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := VerifyToken(token, h.secretKey); err != nil {
			abort(c, http.StatusUnauthorized, err.Error())
			return
		}
		c.Next()
	}
}

// NewRouter builds the gin engine for h.
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(h.recovery(), h.requestLogger())

	router.GET("/admin/availability", h.GetAvailability)
	router.PUT("/admin/availability", h.PutAvailability)

	public := router.Group("/api", h.outage())
	public.HEAD("/ping", h.Ping)
	public.GET("/ping", h.Ping)

	api := router.Group("/api", h.outage(), h.authenticate())
	{
		api.GET("/:resource", h.List)
		api.POST("/:resource", h.Create)
		api.DELETE("/:resource", h.Clear)
		api.PUT("/:resource/:id", h.Update)
		api.DELETE("/:resource/:id", h.Delete)
	}
	return router
}

type availability struct {
	Available bool `json:"available"`
}

func (h *Handler) GetAvailability(c *gin.Context) {
	c.JSON(http.StatusOK, availability{Available: h.Available()})
}

// PutAvailability starts or ends a simulated outage.
func (h *Handler) PutAvailability(c *gin.Context) {
	var body availability
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	h.SetAvailable(body.Available)
	h.log.Info(c.Request.Context(), "availability changed", "available", body.Available)
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Ping(c *gin.Context) {
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func resource(c *gin.Context) (apiclient.Resource, bool) {
	r := apiclient.Resource(c.Param("resource"))
	if !r.Valid() {
		abort(c, http.StatusNotFound, "unknown collection "+string(r))
		return "", false
	}
	return r, true
}

// itemResource resolves endpoints that address a single record; only
// registrations expose them.
func itemResource(c *gin.Context) (apiclient.Resource, int64, bool) {
	r, ok := resource(c)
	if !ok {
		return "", 0, false
	}
	if r != apiclient.Registrations {
		abort(c, http.StatusMethodNotAllowed, "records of "+string(r)+" cannot be modified individually")
		return "", 0, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abort(c, http.StatusBadRequest, "invalid id")
		return "", 0, false
	}
	return r, id, true
}

func bindRecord(c *gin.Context) (Record, bool) {
	body, err := c.GetRawData()
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil || rec == nil {
		abort(c, http.StatusBadRequest, "body must be a JSON object")
		return nil, false
	}
	delete(rec, "id")
	return rec, true
}

func (h *Handler) List(c *gin.Context) {
	r, ok := resource(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.store.List(r))
}

func (h *Handler) Create(c *gin.Context) {
	r, ok := resource(c)
	if !ok {
		return
	}
	rec, ok := bindRecord(c)
	if !ok {
		return
	}
	created, replayed := h.store.Create(r, rec, c.GetHeader(common.IdempotencyKeyHeaderName))
	if replayed {
		c.JSON(http.StatusOK, created)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) Update(c *gin.Context) {
	r, id, ok := itemResource(c)
	if !ok {
		return
	}
	rec, ok := bindRecord(c)
	if !ok {
		return
	}
	updated, err := h.store.Update(r, id, rec)
	if errors.Is(err, ErrNotFound) {
		abort(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) Delete(c *gin.Context) {
	r, id, ok := itemResource(c)
	if !ok {
		return
	}
	if err := h.store.Delete(r, id); err != nil {
		abort(c, http.StatusNotFound, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Clear(c *gin.Context) {
	r, ok := resource(c)
	if !ok {
		return
	}
	n := h.store.Clear(r)
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
