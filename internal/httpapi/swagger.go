//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/status": {"get": {"summary": "Session status", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/transcript": {"get": {"summary": "Chat transcript", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/models": {"get": {"summary": "Models in the current source", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/source": {
            "get": {"summary": "Current model source", "responses": {"200": {"description": "OK"}}},
            "put": {"summary": "Change and persist the model source", "consumes": ["application/json"], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}
        },
        "/load": {"post": {"summary": "Acquire and load a model", "consumes": ["application/json"], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}, "422": {"description": "Unprocessable Entity"}, "502": {"description": "Bad Gateway"}}}},
        "/submit": {"post": {"summary": "Send a chat message", "consumes": ["application/json"], "responses": {"202": {"description": "Accepted"}, "409": {"description": "Conflict"}}}},
        "/cancel": {"post": {"summary": "Cancel the running generation or benchmark", "responses": {"200": {"description": "OK"}}}},
        "/bench": {"post": {"summary": "Run the benchmark", "consumes": ["application/json"], "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}, "502": {"description": "Bad Gateway"}}}},
        "/clear": {"post": {"summary": "Clear the transcript", "responses": {"204": {"description": "No Content"}, "409": {"description": "Conflict"}}}},
        "/teardown": {"post": {"summary": "Unload the engine", "responses": {"200": {"description": "OK"}}}},
        "/events": {"get": {"summary": "Session events as NDJSON", "produces": ["application/x-ndjson"], "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Title:            "llamachat API",
	Description:      "Local model chat session: load, chat, benchmark, teardown.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
