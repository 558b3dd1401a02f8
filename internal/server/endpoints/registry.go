package endpoints

import (
	"github.com/jackzampolin/bindery/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Conversion endpoints
		&CreateConversionEndpoint{},
		&ListConversionsEndpoint{},
		&GetConversionEndpoint{},
		&ConversionReportEndpoint{},
		&CancelConversionEndpoint{},
		&DeleteConversionEndpoint{},
		&DownloadConversionEndpoint{},

		// Metrics endpoints
		&MetricsSummaryEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}
