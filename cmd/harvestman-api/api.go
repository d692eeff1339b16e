// Package main provides the Harvestman API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/persistence"
	"github.com/harvestman-flow/harvestman/pkg/web"
	"github.com/harvestman-flow/harvestman/pkg/workflow"
)

type API struct {
	logger   *slog.Logger
	store    persistence.Persistence
	bus      *bus.Bus
	engine   *workflow.Engine
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus *bus.Bus,
	engine *workflow.Engine,
) *API {
	return &API{
		logger:   logger,
		store:    store,
		bus:      eventBus,
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewHandlers(a.engine, a.store, a.bus, a.validate)

	return web.NewApp(handlers)
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
