package history

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/history"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/orchestrator"
)

type (
	Store interface {
		List() ([]orchestrator.UploadOutcome, error)
		Get(id string) (*orchestrator.UploadOutcome, error)
	}

	// Controller exposes the persisted outcomes of finished jobs.
	Controller struct {
		store Store
	}
)

func New(store Store) *Controller {
	return &Controller{store: store}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
}

func (controller *Controller) list(ec echo.Context) error {
	outcomes, err := controller.store.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, outcomes)
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Job ID is not a valid UUID")
	}

	outcome, err := controller.store.Get(id.String())
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, outcome)
}
