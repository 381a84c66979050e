package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "School SMS API",
        "description": "Student records and parent SMS notifications",
        "version": "1.0.0"
    },
    "basePath": "/api",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Students", "description": "Student record management"},
        {"name": "SMS", "description": "Bulk SMS dispatch, history and gateway status"}
    ],
    "paths": {
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "grade", "in": "query", "type": "string"},
                    {"name": "feeStatus", "in": "query", "type": "string", "enum": ["paid", "unpaid"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Students"],
                "summary": "Register a student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/Student"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate student"}
                }
            }
        },
        "/students/import": {
            "post": {
                "tags": ["Students"],
                "summary": "Import students from CSV",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "file", "in": "formData", "type": "file", "required": true}
                ],
                "responses": {
                    "200": {"description": "Import report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}": {
            "get": {
                "tags": ["Students"],
                "summary": "Get a student",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["Students"],
                "summary": "Update a student",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/Student"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Students"],
                "summary": "Remove a student",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        },
        "/sms/fee-notification": {
            "post": {
                "tags": ["SMS"],
                "summary": "Send fee notifications to selected students",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/FeeNotificationRequest"}}
                ],
                "responses": {
                    "200": {"description": "Dispatch report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Gateway auth or request failure"}
                }
            }
        },
        "/sms/bulk": {
            "post": {
                "tags": ["SMS"],
                "summary": "Broadcast a message to students matching the filters",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkSMSRequest"}}
                ],
                "responses": {
                    "200": {"description": "Dispatch report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Gateway auth or request failure"}
                }
            }
        },
        "/sms/history": {
            "get": {
                "tags": ["SMS"],
                "summary": "List send attempts, newest first",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["pending", "success", "failed"]},
                    {"name": "template", "in": "query", "type": "string"},
                    {"name": "skip", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sms/history/export": {
            "get": {
                "tags": ["SMS"],
                "summary": "Download the filtered send history as CSV",
                "produces": ["text/csv"],
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["pending", "success", "failed"]},
                    {"name": "template", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "CSV content"}
                }
            }
        },
        "/sms/credits": {
            "get": {
                "tags": ["SMS"],
                "summary": "Report the remaining gateway credits",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sms/status/{apiMessageId}": {
            "get": {
                "tags": ["SMS"],
                "summary": "Look up gateway delivery status for a message",
                "parameters": [{"name": "apiMessageId", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown message"}
                }
            }
        }
    },
    "definitions": {
        "Student": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "grade": {"type": "string"},
                "class_letter": {"type": "string"},
                "parent1_phone": {"type": "string"},
                "parent2_phone": {"type": "string"},
                "fee_status": {"type": "string", "enum": ["paid", "unpaid"]}
            }
        },
        "FeeNotificationRequest": {
            "type": "object",
            "properties": {
                "student_ids": {"type": "array", "items": {"type": "string"}},
                "template_name": {"type": "string"},
                "template_vars": {"type": "object"}
            }
        },
        "BulkSMSRequest": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "filters": {
                    "type": "object",
                    "properties": {
                        "grades": {"type": "array", "items": {"type": "string"}},
                        "fee_status": {"type": "string", "enum": ["paid", "unpaid"]}
                    }
                },
                "use_primary_contact": {"type": "boolean"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "skip": {"type": "integer"},
                "limit": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
