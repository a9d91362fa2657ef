package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/marcelo/licita-radar/internal/auth"
	"github.com/marcelo/licita-radar/internal/collect"
	"github.com/marcelo/licita-radar/internal/db"
	"github.com/marcelo/licita-radar/internal/jobs"
	"github.com/marcelo/licita-radar/internal/models"
)

type Server struct {
	Store       *db.Store
	AuthService *auth.Service
	Jobs        *jobs.Manager
	Echo        *echo.Echo

	defaultScope collect.Scope
}

func NewServer(store *db.Store, manager *jobs.Manager, defaultScope collect.Scope) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s := &Server{
		Store:        store,
		AuthService:  auth.NewService(store),
		Jobs:         manager,
		Echo:         e,
		defaultScope: defaultScope,
	}

	s.routes()
	return s
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)

	api := s.Echo.Group("/api/v1")
	api.GET("/opportunities", s.handleListOpportunities)
	api.GET("/opportunities/:id", s.handleGetOpportunity)
	api.GET("/runs", s.handleListRuns)

	api.POST("/auth/login", s.handleLogin)

	admin := api.Group("")
	admin.Use(auth.Middleware, auth.RequireAdmin)
	admin.POST("/jobs/start", s.handleStartJob)
	admin.GET("/jobs/status", s.handleJobStatus)
	admin.POST("/jobs/cancel", s.handleCancelJob)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListOpportunities(c echo.Context) error {
	params := db.ListParams{
		Modality: c.QueryParam("modality"),
		Origin:   c.QueryParam("origin"),
		Query:    c.QueryParam("q"),
	}
	if regions := c.QueryParam("regions"); regions != "" {
		for _, r := range strings.Split(regions, ",") {
			r = strings.TrimSpace(strings.ToUpper(r))
			if r != "" {
				params.Regions = append(params.Regions, r)
			}
		}
	}
	params.OnlyActive = c.QueryParam("only_active") == "true"
	params.Limit, _ = strconv.Atoi(c.QueryParam("limit"))
	params.Offset, _ = strconv.Atoi(c.QueryParam("offset"))

	result, err := s.Store.ListOpportunities(c.Request().Context(), params)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetOpportunity(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid opportunity ID"})
	}

	opp, err := s.Store.GetOpportunity(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Opportunity not found"})
	}
	return c.JSON(http.StatusOK, opp)
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := s.Store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

type startJobRequest struct {
	Regions           []string `json:"regions"`
	Modalities        []string `json:"modalities"`
	LookbackDays      int      `json:"lookback_days"`
	OpenProposalsOnly *bool    `json:"open_proposals_only"`
	Sources           []string `json:"sources"`
}

func (s *Server) handleStartJob(c echo.Context) error {
	var req startJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	scope := s.defaultScope
	if len(req.Regions) > 0 {
		scope.Regions = req.Regions
	}
	if len(req.Modalities) > 0 {
		scope.Modalities = make([]models.Modality, 0, len(req.Modalities))
		for _, m := range req.Modalities {
			scope.Modalities = append(scope.Modalities, models.Modality(m))
		}
	}
	if req.LookbackDays > 0 {
		scope.LookbackDays = req.LookbackDays
	}
	if req.OpenProposalsOnly != nil {
		scope.OpenProposalsOnly = *req.OpenProposalsOnly
	}
	if len(req.Sources) > 0 {
		scope.Sources = req.Sources
	}

	runID, err := s.Jobs.Start(scope)
	if err != nil {
		if errors.Is(err, jobs.ErrRunActive) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID.String(), "status": "running"})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	run, err := s.Jobs.Status(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if run == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"run": nil})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"run": run})
}

func (s *Server) handleCancelJob(c echo.Context) error {
	if !s.Jobs.Cancel() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "no active run"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}
