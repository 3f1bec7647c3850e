package jobs

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/orchestrator"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/transport"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

type (
	// CreateRequest is the body accepted when submitting a new job. Omitted
	// visibility and transport fields fall back to the service defaults.
	CreateRequest struct {
		SourcePath  string `json:"source_path"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Visibility  string `json:"visibility"`
		Transport   string `json:"transport"`
		Account     string `json:"account"`
	}

	Dto struct {
		ID          uuid.UUID                   `json:"id"`
		SourcePath  string                      `json:"source_path"`
		Title       string                      `json:"title"`
		Visibility  string                      `json:"visibility"`
		Transport   string                      `json:"transport"`
		Status      orchestrator.JobStatus      `json:"status"`
		Stage       string                      `json:"stage"`
		Message     string                      `json:"message"`
		Outcome     *orchestrator.UploadOutcome `json:"outcome,omitempty"`
		SubmittedAt time.Time                   `json:"submitted_at"`
	}

	Service interface {
		Submit(orchestrator.UploadJob) (*orchestrator.UploadJob, error)
		Job(uuid.UUID) (*orchestrator.JobView, bool)
		Jobs() []orchestrator.JobView
		Cancel(uuid.UUID) error
	}

	Controller struct {
		service Service
	}
)

var controllerLogger = logger.Get("JobsController")

func New(service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.POST("/", controller.create)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.cancel)
}

func (controller *Controller) list(ec echo.Context) error {
	views := controller.service.Jobs()
	dtos := make([]*Dto, len(views))
	for k, v := range views {
		dtos[k] = NewDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}

// create binds the request body to a new upload job and submits it. The
// job is validated by the service, so a rejected job is reported as a
// bad request.
func (controller *Controller) create(ec echo.Context) error {
	var request CreateRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}

	job := orchestrator.UploadJob{
		SourceFilePath: request.SourcePath,
		Title:          request.Title,
		Description:    request.Description,
		Visibility:     request.Visibility,
		Account:        request.Account,
	}
	if job.Title == "" && job.SourceFilePath != "" {
		job.Title = orchestrator.TitleFromPath(job.SourceFilePath)
	}
	if request.Transport != "" {
		kind, err := transport.ParseKind(request.Transport)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		job.Transport = kind
	}

	submitted, err := controller.service.Submit(job)
	if err != nil {
		controllerLogger.Emit(logger.WARNING, "Rejected job submission: %v\n", err)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	view, ok := controller.service.Job(submitted.ID)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "submitted job could not be found")
	}

	return ec.JSON(http.StatusCreated, NewDto(*view))
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Job ID is not a valid UUID")
	}

	view, ok := controller.service.Job(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, NewDto(*view))
}

// cancel stops the job with the 'id' path param. Cancelling a job which
// has already finished is a conflict.
func (controller *Controller) cancel(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Job ID is not a valid UUID")
	}

	if err := controller.service.Cancel(id); err != nil {
		if errors.Is(err, orchestrator.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		} else if errors.Is(err, orchestrator.ErrJobFinished) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

func NewDto(view orchestrator.JobView) *Dto {
	return &Dto{
		ID:          view.Job.ID,
		SourcePath:  view.Job.SourceFilePath,
		Title:       view.Job.Title,
		Visibility:  view.Job.Visibility,
		Transport:   view.Job.Transport.String(),
		Status:      view.Status,
		Stage:       view.Stage,
		Message:     view.Message,
		Outcome:     view.Outcome,
		SubmittedAt: view.Job.SubmittedAt,
	}
}
