package app

import (
	"go.uber.org/fx"

	"github.com/calderaware/refinery/internal/cache"
	"github.com/calderaware/refinery/internal/config"
	"github.com/calderaware/refinery/internal/database"
	"github.com/calderaware/refinery/internal/deeplink"
	"github.com/calderaware/refinery/internal/logger"
	"github.com/calderaware/refinery/internal/messaging"
	"github.com/calderaware/refinery/internal/observability"
	"github.com/calderaware/refinery/internal/photo"
	repositoryrecord "github.com/calderaware/refinery/internal/repository/record"
	httpserver "github.com/calderaware/refinery/internal/server/http"
	servicerecord "github.com/calderaware/refinery/internal/service/record"
	transporthttp "github.com/calderaware/refinery/internal/transport/http"
	"github.com/calderaware/refinery/internal/worker"
	workerrecord "github.com/calderaware/refinery/internal/worker/record"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	photo.Module,
	repositoryrecord.Module,
	servicerecord.Module,
	deeplink.Module,
)

// HTTP wires the HTTP transport on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerrecord.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
