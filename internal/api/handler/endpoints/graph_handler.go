package endpoints

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"patchbay"
	"patchbay/internal/api/handler/mapper"
	"patchbay/internal/api/handler/middleware"
	"patchbay/internal/api/handler/request"
	"patchbay/internal/api/handler/response"
	"patchbay/internal/api/service"
	"patchbay/internal/graph"
	"patchbay/internal/mirror"
	"patchbay/internal/reconcile"
	"patchbay/internal/value"
	"patchbay/pkg"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type graphHandler struct {
	mirrorService  *service.MirrorService
	journalService *service.JournalService
	graphMapper    mapper.GraphMapper
	config         patchbay.AppConfig
	logger         zerolog.Logger
}

func newGraphHandler(mirrorService *service.MirrorService, journalService *service.JournalService) *graphHandler {
	return &graphHandler{
		mirrorService:  mirrorService,
		journalService: journalService,
		config:         patchbay.GetConfig(),
		logger:         patchbay.Logger,
	}
}

// GraphHandler exposes the mirrored graph. journalService may be nil when
// the journal is disabled.
func GraphHandler(router *graceful.Graceful, mirrorService *service.MirrorService, journalService *service.JournalService) {
	h := newGraphHandler(mirrorService, journalService)
	h.register(router.Group("/api/v1"))
}

func (slf *graphHandler) register(routes *gin.RouterGroup) {
	routes.Use(middleware.AuthMiddleware(slf.config))
	{
		routes.GET("/graph", slf.getGraph)
		routes.GET("/peers", slf.getPeers)
		if slf.journalService != nil {
			routes.GET("/journal", slf.getJournal)
		}
	}

	operator := routes.Group("")
	operator.Use(middleware.RequireRole(middleware.RoleOperator))
	{
		operator.POST("/connections", slf.connect)
		operator.DELETE("/connections/:id", slf.disconnect)
		operator.PUT("/peers/:peer/ports/:port/value", slf.editValue)
	}
}

func (slf *graphHandler) getGraph(c *gin.Context) {
	snap, err := slf.mirrorService.Snapshot(c.Request.Context())
	if err != nil {
		slf.fail(c, err, "Failed to read graph")
		return
	}
	c.JSON(http.StatusOK, slf.graphMapper.SnapshotToResponse(snap))
}

func (slf *graphHandler) getPeers(c *gin.Context) {
	peers, err := slf.mirrorService.Peers(c.Request.Context())
	if err != nil {
		slf.fail(c, err, "Failed to read peers")
		return
	}
	c.JSON(http.StatusOK, slf.graphMapper.PeersToResponse(peers))
}

func (slf *graphHandler) connect(c *gin.Context) {
	var dto request.ConnectDTO
	if err := pkg.ParseAndValidate(c, &dto); err != nil {
		c.JSON(http.StatusBadRequest, response.APIError{Message: "Invalid request body", Data: err.Error()})
		return
	}

	conn, err := slf.mirrorService.Connect(c.Request.Context(), dto)
	if err != nil {
		slf.fail(c, err, "Failed to connect ports")
		return
	}

	slf.logger.Info().
		Str("user", pkg.GetUsername(c, "anonymous")).
		Str("emitter", dto.EmitterPort+"@"+dto.EmitterPeer).
		Str("receiver", dto.ReceiverPort+"@"+dto.ReceiverPeer).
		Msg("Connection created")
	c.JSON(http.StatusCreated, slf.graphMapper.ConnectionToResponse(conn))
}

func (slf *graphHandler) disconnect(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, response.APIError{Message: "Invalid connection ID"})
		return
	}

	if err := slf.mirrorService.Disconnect(c.Request.Context(), graph.ConnectionID(id)); err != nil {
		slf.fail(c, err, "Failed to remove connection")
		return
	}
	c.Status(http.StatusNoContent)
}

func (slf *graphHandler) editValue(c *gin.Context) {
	var dto request.EditValueDTO
	if err := pkg.ParseAndValidate(c, &dto); err != nil {
		c.JSON(http.StatusBadRequest, response.APIError{Message: "Invalid request body", Data: err.Error()})
		return
	}

	err := slf.mirrorService.EditValue(c.Request.Context(), c.Param("peer"), c.Param("port"), *dto.Value)
	if err != nil {
		slf.fail(c, err, "Failed to edit value")
		return
	}
	c.Status(http.StatusNoContent)
}

func (slf *graphHandler) getJournal(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := slf.journalService.Recent(c.Query("peer"), limit)
	if err != nil {
		slf.logger.Error().Err(err).Msg("Failed to read journal")
		c.JSON(http.StatusInternalServerError, response.APIError{Message: "Failed to read journal"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// fail maps domain errors to HTTP statuses.
func (slf *graphHandler) fail(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reconcile.ErrUnknownPeer),
		errors.Is(err, service.ErrPortNotFound),
		errors.Is(err, service.ErrConnectionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrConnectionRejected):
		status = http.StatusConflict
	case errors.Is(err, value.ErrInvalidValue):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, mirror.ErrBusy),
		errors.Is(err, mirror.ErrStopped),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		slf.logger.Error().Err(err).Msg(message)
	} else {
		slf.logger.Debug().Err(err).Msg(message)
	}
	c.JSON(status, response.APIError{Message: message, Data: err.Error()})
}
