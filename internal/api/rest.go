package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/api/history"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/api/ingests"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/api/jobs"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/http/websocket"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var log = logger.Get("API")

const COMMAND_CANCEL_JOB = "CANCEL_JOB"

type (
	RestConfig struct {
		Enabled  bool   `yaml:"enabled" env:"API_ENABLED" env-default:"true"`
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080" validate:"required_if=Enabled true"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole responsibility
	// is to create the routes exposed for job submission and inspection, and to manage
	// ongoing web socket connections which receive job activity.
	RestGateway struct {
		*broadcaster
		config            *RestConfig
		ec                *echo.Echo
		socket            *websocket.SocketHub
		jobsController    controller
		historyController controller
		ingestController  controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers. The ingest service is optional;
// when nil, the ingest routes are not registered.
func NewRestGateway(
	config *RestConfig,
	jobService jobs.Service,
	historyStore history.Store,
	ingestService ingests.Service,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:       newBroadcaster(socket, jobService, ingestService),
		config:            config,
		ec:                ec,
		socket:            socket,
		jobsController:    jobs.New(jobService),
		historyController: history.New(historyStore),
	}
	socket.WithConnectionCallback(gateway.broadcaster.initialState)
	socket.BindCommand(COMMAND_CANCEL_JOB, gateway.handleCancelCommand)

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	jobsGroup := ec.Group("/api/v1/jobs")
	gateway.jobsController.SetRoutes(jobsGroup)

	historyGroup := ec.Group("/api/v1/history")
	gateway.historyController.SetRoutes(historyGroup)

	if ingestService != nil {
		gateway.ingestController = ingests.New(ingestService)
		ingestsGroup := ec.Group("/api/v1/ingests")
		gateway.ingestController.SetRoutes(ingestsGroup)
	}

	return gateway
}

// handleCancelCommand cancels the job named by the 'job_id' argument of a
// socket command, replying to the sender once the cancellation is accepted.
func (gateway *RestGateway) handleCancelCommand(hub *websocket.SocketHub, command *websocket.SocketMessage) error {
	if err := command.ValidateArguments(map[string]string{"job_id": "string"}); err != nil {
		return err
	}

	id, err := uuid.Parse(command.Body["job_id"].(string))
	if err != nil {
		return fmt.Errorf("job_id is not a valid UUID: %w", err)
	}
	if err := gateway.jobStore.Cancel(id); err != nil {
		return err
	}

	hub.Send(command.FormReply("JOB_CANCELLED", map[string]interface{}{"job_id": id}, websocket.Response))
	return nil
}

// ServeHTTP allows the gateway to be mounted without running the listener.
func (gateway *RestGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gateway.ec.ServeHTTP(w, r)
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	defer ctxCancel(nil)
	wg := &sync.WaitGroup{}

	// HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxCancel(err)
		}
	}()

	// Shut the server down once the gateway context ends
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Activity socket hub
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// A cancelled parent is a normal shutdown; only a distinct cause is
	// reported as an error.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
