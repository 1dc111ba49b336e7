// Package docs is generated by swaggo/swag from the annotations in
// cmd/muhost/docs.go and internal/httpapi. Regenerate with
// `swag init -g cmd/muhost/docs.go -o docs`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "muhost maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/cache/clear": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Remove cached results",
                "parameters": [
                    {
                        "description": "Options",
                        "name": "body",
                        "in": "body",
                        "schema": {"$ref": "#/definitions/types.CacheClearRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.CacheClearResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/config": {
            "get": {
                "produces": ["application/json"],
                "summary": "Current settings",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            },
            "post": {
                "description": "Merges a JSON subset of tunables, validates, persists and reloads the catalog.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Update settings",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.OKResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/enhance": {
            "get": {
                "description": "Fetches url, upscales it and returns the image. On any pipeline failure the original bytes are returned with X-MU-Host-Error.",
                "produces": ["image/png", "image/jpeg"],
                "summary": "Enhance an image by URL",
                "parameters": [
                    {"type": "string", "description": "Source image URL", "name": "url", "in": "query", "required": true},
                    {"type": "integer", "description": "Output scale (2-4)", "name": "scale", "in": "query"},
                    {"type": "string", "description": "fast, balanced or best", "name": "quality", "in": "query"},
                    {"type": "string", "description": "png, jpeg or webp", "name": "format", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/octet-stream"],
                "produces": ["image/png", "image/jpeg"],
                "summary": "Enhance an uploaded image",
                "parameters": [
                    {"type": "integer", "description": "Output scale (2-4)", "name": "scale", "in": "query"},
                    {"type": "string", "description": "fast, balanced or best", "name": "quality", "in": "query"},
                    {"type": "string", "description": "png, jpeg or webp", "name": "format", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["text/plain"],
                "summary": "Liveness probe",
                "responses": {
                    "200": {"description": "ok", "schema": {"type": "string"}}
                }
            }
        },
        "/models": {
            "get": {
                "produces": ["application/json"],
                "summary": "Current model catalog",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}
                }
            }
        },
        "/shutdown": {
            "post": {
                "produces": ["application/json"],
                "summary": "Stop the host",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.OKResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.CacheClearRequest": {
            "type": "object",
            "properties": {
                "include_wrapped": {"type": "boolean", "example": false}
            }
        },
        "types.CacheClearResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean", "example": true},
                "removed": {"type": "integer", "example": 12}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 400},
                "error": {"type": "string", "example": "missing url"}
            }
        },
        "types.Model": {
            "type": "object",
            "properties": {
                "bucket": {"type": "string", "example": "1600"},
                "exists": {"type": "boolean", "example": true},
                "file": {"type": "string", "example": "2x_MangaJaNai_1600p_V1_ESRGAN_90k.safetensors"},
                "kind": {"type": "string", "example": "manga"},
                "path": {"type": "string"},
                "scale": {"type": "integer", "example": 2}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {
                "models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}},
                "models_dir": {"type": "string", "example": "/home/user/.mu_models"}
            }
        },
        "types.OKResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean", "example": true}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "127.0.0.1:48159",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "muhost API",
	Description:      "Loopback HTTP API of the local super-resolution host used by the MangaUpscaler browser extension.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
