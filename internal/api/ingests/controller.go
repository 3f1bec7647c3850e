package ingests

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/ingest"
)

type (
	ResolutionTypeWrapper struct{ Value ingest.ResolutionType }
	ResolveTroubleRequest struct {
		Method *ResolutionTypeWrapper `json:"method"`
	}

	// Dto describes a watched source file and how far it has progressed
	// towards becoming a publish job.
	Dto struct {
		Id      uuid.UUID      `json:"id"`
		Path    string         `json:"source_path"`
		State   IngestStateDto `json:"state"`
		Trouble *TroubleDto    `json:"trouble"`
		JobID   *uuid.UUID     `json:"job_id,omitempty"`
	}

	IngestStateDto string
	TroubleTypeDto string

	TroubleDto struct {
		Type                   TroubleTypeDto          `json:"type"`
		Message                string                  `json:"message"`
		AllowedResolutionTypes []ResolutionTypeWrapper `json:"allowed_resolution_types"`
	}

	Service interface {
		GetAllIngests() []*ingest.IngestItem
		GetIngest(uuid.UUID) *ingest.IngestItem
		RemoveIngest(uuid.UUID) error
		DiscoverNewFiles()
		ResolveTroubledIngest(itemID uuid.UUID, method ingest.ResolutionType) error
	}

	Controller struct {
		service Service
	}
)

const (
	IDLE        IngestStateDto = "IDLE"
	IMPORT_HOLD IngestStateDto = "IMPORT_HOLD"
	INGESTING   IngestStateDto = "INGESTING"
	TROUBLED    IngestStateDto = "TROUBLED"
	COMPLETE    IngestStateDto = "COMPLETE"

	SUBMIT_FAILURE  TroubleTypeDto = "SUBMIT_FAILURE"
	SOURCE_FAILURE  TroubleTypeDto = "SOURCE_FAILURE"
	UNKNOWN_FAILURE TroubleTypeDto = "UNKNOWN_FAILURE"
)

var resolutionNames = map[ingest.ResolutionType]string{
	ingest.RETRY: "retry",
	ingest.ABORT: "abort",
}

func New(serv Service) *Controller {
	return &Controller{service: serv}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.POST("/poll/", controller.performPoll)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete)
	eg.POST("/:id/trouble-resolution/", controller.postTroubleResolution)
}

func (controller *Controller) list(ec echo.Context) error {
	items := controller.service.GetAllIngests()
	out := make([]*Dto, 0, len(items))
	for _, item := range items {
		out = append(out, NewDto(item))
	}

	return ec.JSON(http.StatusOK, out)
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := ingestID(ec)
	if err != nil {
		return err
	}

	item := controller.service.GetIngest(id)
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, NewDto(item))
}

func (controller *Controller) delete(ec echo.Context) error {
	id, err := ingestID(ec)
	if err != nil {
		return err
	}

	if err := controller.service.RemoveIngest(id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

// postTroubleResolution applies the requested resolution to a troubled ingest.
func (controller *Controller) postTroubleResolution(ec echo.Context) error {
	id, err := ingestID(ec)
	if err != nil {
		return err
	}

	var request ResolveTroubleRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("malformed resolution request: %v", err))
	} else if request.Method == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "resolution request requires a 'method'")
	}

	if err := controller.service.ResolveTroubledIngest(id, request.Method.Value); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

// performPoll asks the ingest service to rescan its watched directory now.
func (controller *Controller) performPoll(ec echo.Context) error {
	controller.service.DiscoverNewFiles()
	return ec.NoContent(http.StatusOK)
}

func ingestID(ec echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "ingest ID must be a UUID")
	}

	return id, nil
}

func (wrapper *ResolutionTypeWrapper) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	for method, known := range resolutionNames {
		if known == name {
			wrapper.Value = method
			return nil
		}
	}

	return fmt.Errorf("unknown resolution method '%s'", name)
}

func (wrapper ResolutionTypeWrapper) MarshalJSON() ([]byte, error) {
	if name, ok := resolutionNames[wrapper.Value]; ok {
		return json.Marshal(name)
	}

	return nil, fmt.Errorf("resolution method %v has no name", wrapper.Value)
}

// NewDto converts an ingest item for the API. Troubled items can always
// be retried or aborted.
func NewDto(item *ingest.IngestItem) *Dto {
	dto := &Dto{
		Id:    item.ID,
		Path:  item.Path,
		State: IngestStateModelToDto(item.State),
	}
	if item.Trouble != nil {
		dto.Trouble = &TroubleDto{
			Type:                   TroubleTypeModelToDto(item.Trouble.Type()),
			Message:                item.Trouble.Error(),
			AllowedResolutionTypes: []ResolutionTypeWrapper{{ingest.RETRY}, {ingest.ABORT}},
		}
	}
	if item.JobID != uuid.Nil {
		jobID := item.JobID
		dto.JobID = &jobID
	}

	return dto
}

func IngestStateModelToDto(state ingest.IngestItemState) IngestStateDto {
	switch state {
	case ingest.IDLE:
		return IDLE
	case ingest.IMPORT_HOLD:
		return IMPORT_HOLD
	case ingest.INGESTING:
		return INGESTING
	case ingest.TROUBLED:
		return TROUBLED
	case ingest.COMPLETE:
		return COMPLETE
	}

	panic(fmt.Sprintf("ingest state %s has no DTO equivalent", state))
}

func TroubleTypeModelToDto(troubleType ingest.TroubleType) TroubleTypeDto {
	switch troubleType {
	case ingest.SUBMIT_FAILURE:
		return SUBMIT_FAILURE
	case ingest.SOURCE_FAILURE:
		return SOURCE_FAILURE
	}

	return UNKNOWN_FAILURE
}
