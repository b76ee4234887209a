// Package docs registers the OpenAPI document served at /swagger/doc.json.
// Regenerate with: swag init -g cmd/api/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/jobs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List the caller's jobs",
                "parameters": [
                    {"type": "string", "description": "queued | processing | completed | failed | cancelled", "name": "status", "in": "query"},
                    {"type": "integer", "default": 1, "description": "1-based page", "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "description": "page size, max 100", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/service.Page"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Stores the job as queued with the priority of the caller's plan and returns its queue position.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Enqueue a note generation job",
                "parameters": [
                    {"description": "job_type: text_notes | file_notes | video_notes | youtube_notes", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httptransport.createJobDTO"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httptransport.createJobResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/events": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Server-sent events for the caller's jobs. A resync event means updates were dropped and jobs should be re-read.",
                "produces": ["text/event-stream"],
                "tags": ["jobs"],
                "summary": "Stream job updates",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/feed.Event"}}
                }
            }
        },
        "/jobs/stats": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Counts and average duration over the caller's jobs, or all jobs with scope=all. The wait estimate always covers the whole queue.",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Queue statistics",
                "parameters": [
                    {"type": "string", "description": "all", "name": "scope", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entity.Stats"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get job by id",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entity.Job"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            },
            "patch": {
                "security": [{"BearerAuth": []}],
                "description": "cancel is allowed while queued, retry while failed with retries left.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Cancel or retry a job",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true},
                    {"description": "action: cancel | retry", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httptransport.updateJobDTO"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entity.Job"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/position": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Queue position of a queued job",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.positionResp"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/notes": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Enqueues a job like POST /jobs and blocks until a worker finishes it.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["notes"],
                "summary": "Generate notes and wait for the result",
                "parameters": [
                    {"description": "same payload as POST /jobs", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httptransport.createJobDTO"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entity.NoteOutput"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "504": {"description": "Gateway Timeout", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        }
    },
    "definitions": {
        "entity.Job": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "job_type": {"type": "string"},
                "priority": {"type": "string"},
                "status": {"type": "string"},
                "input_data": {"type": "object"},
                "output_data": {"type": "object"},
                "error_message": {"type": "string"},
                "progress": {"type": "integer"},
                "retry_count": {"type": "integer"},
                "max_retries": {"type": "integer"},
                "estimated_duration_seconds": {"type": "integer"},
                "actual_duration_seconds": {"type": "integer"},
                "worker_id": {"type": "string"},
                "created_at": {"type": "string"},
                "started_at": {"type": "string"},
                "completed_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "entity.NoteOutput": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "content": {"type": "string"},
                "summary": {"type": "string"},
                "quiz": {"type": "object"}
            }
        },
        "entity.Stats": {
            "type": "object",
            "properties": {
                "counts_by_status": {"type": "object", "additionalProperties": {"type": "integer"}},
                "avg_duration_seconds": {"type": "number"},
                "estimated_wait_time_seconds": {"type": "number"}
            }
        },
        "feed.Event": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "job_id": {"type": "string"},
                "user_id": {"type": "string"},
                "status": {"type": "string"},
                "progress": {"type": "integer"},
                "kind": {"type": "string"},
                "at": {"type": "string"}
            }
        },
        "httptransport.apiError": {
            "type": "object",
            "properties": {"message": {"type": "string"}}
        },
        "httptransport.createJobDTO": {
            "type": "object",
            "properties": {
                "job_type": {"type": "string"},
                "input_data": {"type": "object"},
                "max_retries": {"type": "integer"}
            }
        },
        "httptransport.createJobResp": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "position": {"type": "integer"}
            }
        },
        "httptransport.positionResp": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "position": {"type": "integer"}
            }
        },
        "httptransport.updateJobDTO": {
            "type": "object",
            "properties": {"action": {"type": "string"}}
        },
        "service.Page": {
            "type": "object",
            "properties": {
                "jobs": {"type": "array", "items": {"$ref": "#/definitions/entity.Job"}},
                "total": {"type": "integer"},
                "page": {"type": "integer"},
                "limit": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Note Queue API",
	Description:      "Priority job queue for AI note generation.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
