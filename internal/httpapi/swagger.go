//go:build swagger

package httpapi

import (
	_ "embed"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

//go:embed openapi.json
var openapiDoc string

type staticDoc struct{}

func (staticDoc) ReadDoc() string { return openapiDoc }

func init() {
	swag.Register(swag.Name, staticDoc{})
}

// MountSwagger serves the API description and Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
