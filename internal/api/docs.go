package api

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"
)

// swaggerSpec is a hand-maintained OpenAPI 2.0 document describing the
// read-only REST/WS surface. Kept here rather than generated by `swag init`
// (no go:generate step runs as part of this build) but served through the
// same swaggo/http-swagger UI the teacher wires for its own API docs.
const swaggerSpec = `{
  "swagger": "2.0",
  "info": {
    "title": "meshmap-engine API",
    "description": "Live mesh-radio topology ingest and map feed.",
    "version": "1.0"
  },
  "basePath": "/",
  "paths": {
    "/health": {
      "get": {
        "summary": "Liveness and dependency health",
        "responses": { "200": { "description": "ok" }, "503": { "description": "degraded" } }
      }
    },
    "/snapshot": {
      "get": {
        "summary": "Full current topology snapshot",
        "responses": { "200": { "description": "ok" } }
      }
    },
    "/stats": {
      "get": {
        "summary": "Ingest and broadcast counters",
        "responses": { "200": { "description": "ok" } }
      }
    },
    "/api/nodes": {
      "get": {
        "summary": "List known devices, optionally only those seen since a cutoff",
        "parameters": [
          { "name": "mode", "in": "query", "type": "string", "required": false },
          { "name": "updated_since", "in": "query", "type": "string", "required": false },
          { "name": "format", "in": "query", "type": "string", "required": false }
        ],
        "responses": { "200": { "description": "ok" } }
      }
    },
    "/peers/{device_id}": {
      "get": {
        "summary": "Incoming and outgoing peer counts for one device, from route history",
        "parameters": [
          { "name": "device_id", "in": "path", "type": "string", "required": true },
          { "name": "limit", "in": "query", "type": "integer", "required": false }
        ],
        "responses": { "200": { "description": "ok" }, "404": { "description": "not found" } }
      }
    },
    "/los": {
      "get": {
        "summary": "Line-of-sight obstruction profile between two points",
        "parameters": [
          { "name": "lat1", "in": "query", "type": "number", "required": true },
          { "name": "lon1", "in": "query", "type": "number", "required": true },
          { "name": "lat2", "in": "query", "type": "number", "required": true },
          { "name": "lon2", "in": "query", "type": "number", "required": true }
        ],
        "responses": { "200": { "description": "ok" }, "502": { "description": "elevation provider unreachable" } }
      }
    },
    "/coverage": {
      "get": {
        "summary": "Proxied coverage raster tiles",
        "responses": { "200": { "description": "ok" }, "502": { "description": "coverage provider unreachable" } }
      }
    },
    "/ws": {
      "get": {
        "summary": "WebSocket live feed (snapshot on connect, deltas after)",
        "responses": { "101": { "description": "switching protocols" } }
      }
    }
  }
}`

func swaggerDocHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(swaggerSpec))
}

// mountDocs wires the swagger UI at /docs/index.html, backed by the spec
// above served at /docs/doc.json.
func mountDocs(r interface {
	Get(pattern string, h http.HandlerFunc)
}) {
	r.Get("/docs/doc.json", swaggerDocHandler)
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
