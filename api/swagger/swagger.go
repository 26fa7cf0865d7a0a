package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Board API",
        "description": "Announcement board with server-side sessions and file attachments",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "SessionToken": {"type": "apiKey", "in": "header", "name": "Authorization", "description": "Bearer <token>; the session_token cookie is accepted as well"}
    },
    "tags": [
        {"name": "Authentication", "description": "Accounts and sessions"},
        {"name": "Announcements", "description": "Announcements and their attachments"}
    ],
    "paths": {
        "/auth/register": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register account",
                "consumes": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/Envelope"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/Envelope"}},
                    "409": {"description": "Username or email taken", "schema": {"$ref": "#/definitions/Envelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate and open a session",
                "consumes": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Session token, also set as an HTTP-only cookie", "schema": {"$ref": "#/definitions/Envelope"}},
                    "401": {"description": "Invalid username or password", "schema": {"$ref": "#/definitions/Envelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "End the presented session",
                "responses": {
                    "200": {"description": "Logged out", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current identity",
                "security": [{"SessionToken": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Envelope"}},
                    "401": {"description": "No session", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/auth/change-password": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Change password and end all sessions",
                "security": [{"SessionToken": []}],
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/ChangePasswordRequest"}}
                ],
                "responses": {
                    "200": {"description": "Changed", "schema": {"$ref": "#/definitions/Envelope"}},
                    "401": {"description": "No session or wrong old password", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/users": {
            "get": {
                "tags": ["Users"],
                "summary": "List accounts (admin only)",
                "security": [{"SessionToken": []}],
                "parameters": [
                    {"in": "query", "name": "page", "type": "integer"},
                    {"in": "query", "name": "page_size", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Envelope"}},
                    "401": {"description": "No session", "schema": {"$ref": "#/definitions/Envelope"}},
                    "403": {"description": "Not an admin", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/announcements": {
            "get": {
                "tags": ["Announcements"],
                "summary": "List announcements, newest first",
                "description": "Anonymous callers only receive public announcements.",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            },
            "post": {
                "tags": ["Announcements"],
                "summary": "Create announcement",
                "security": [{"SessionToken": []}],
                "consumes": ["application/json", "multipart/form-data"],
                "parameters": [
                    {"in": "formData", "name": "title", "type": "string", "required": true},
                    {"in": "formData", "name": "body", "type": "string", "required": true},
                    {"in": "formData", "name": "is_public", "type": "boolean"},
                    {"in": "formData", "name": "file", "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/Envelope"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/Envelope"}},
                    "401": {"description": "No session", "schema": {"$ref": "#/definitions/Envelope"}},
                    "413": {"description": "Attachment too large", "schema": {"$ref": "#/definitions/Envelope"}},
                    "500": {"description": "Storage failure; cleanup_required marks a file left behind", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/announcements/{id}": {
            "get": {
                "tags": ["Announcements"],
                "summary": "Get announcement",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Envelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            },
            "put": {
                "tags": ["Announcements"],
                "summary": "Update announcement (owner or administrator)",
                "security": [{"SessionToken": []}],
                "consumes": ["application/json", "multipart/form-data"],
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "formData", "name": "title", "type": "string"},
                    {"in": "formData", "name": "body", "type": "string"},
                    {"in": "formData", "name": "is_public", "type": "boolean"},
                    {"in": "formData", "name": "file", "type": "file"}
                ],
                "responses": {
                    "200": {"description": "Updated", "schema": {"$ref": "#/definitions/Envelope"}},
                    "403": {"description": "Not the owner", "schema": {"$ref": "#/definitions/Envelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            },
            "delete": {
                "tags": ["Announcements"],
                "summary": "Delete announcement (owner or administrator)",
                "security": [{"SessionToken": []}],
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "Deleted", "schema": {"$ref": "#/definitions/Envelope"}},
                    "403": {"description": "Not the owner", "schema": {"$ref": "#/definitions/Envelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/announcements/{id}/attachment": {
            "get": {
                "tags": ["Announcements"],
                "summary": "Download attachment",
                "produces": ["application/octet-stream"],
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "File content with Content-Disposition: attachment", "schema": {"type": "file"}},
                    "404": {"description": "No such announcement or attachment", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        }
    },
    "definitions": {
        "RegisterRequest": {
            "type": "object",
            "required": ["username", "email", "password"],
            "properties": {
                "username": {"type": "string", "maxLength": 80},
                "email": {"type": "string", "format": "email", "maxLength": 120},
                "password": {"type": "string", "minLength": 8, "description": "At most 72 bytes once UTF-8 encoded"}
            }
        },
        "LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "ChangePasswordRequest": {
            "type": "object",
            "required": ["old_password", "new_password"],
            "properties": {
                "old_password": {"type": "string"},
                "new_password": {"type": "string", "minLength": 8, "description": "At most 72 bytes once UTF-8 encoded"}
            }
        },
        "Announcement": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "title": {"type": "string"},
                "body": {"type": "string"},
                "is_public": {"type": "boolean"},
                "created_by": {"type": "string"},
                "attachment_name": {"type": "string"},
                "attachment_url": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"}
            }
        },
        "Envelope": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "data": {"type": "object"},
                "message": {"type": "string"},
                "code": {"type": "string"},
                "cleanup_required": {"type": "boolean"}
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
