// Package docs registers the sandbox's Swagger document with swag so that
// echo-swagger can serve it at /swagger/*. Keep in sync with the handler
// annotations in internal/api/handler.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/auth/register": {
            "post": {
                "tags": ["auth"], "summary": "Register a new account",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/Registration"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/Confirmation"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/Error"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["auth"], "summary": "Login",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/Login"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/LoginResult"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["auth"], "summary": "Logout", "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["profile"], "summary": "Current profile", "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/UserRecord"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/Error"}}
                }
            },
            "put": {
                "tags": ["profile"], "summary": "Update profile", "security": [{"BearerAuth": []}],
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"type": "object"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/UserRecord"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/Error"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/auth/forgot-password": {
            "post": {
                "tags": ["auth"], "summary": "Request a password reset",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"type": "object", "properties": {"email": {"type": "string"}}}}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/auth/reset-password": {
            "post": {
                "tags": ["auth"], "summary": "Reset password",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"type": "object", "properties": {"resetToken": {"type": "string"}, "newPassword": {"type": "string"}}}}],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["auth"], "summary": "Refresh tokens",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"type": "object", "properties": {"refreshToken": {"type": "string"}}}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/TokenPair"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        }
    },
    "definitions": {
        "Error": {"type": "object", "properties": {
            "error": {"type": "string"},
            "fields": {"type": "object", "additionalProperties": {"type": "string"}}
        }},
        "Name": {"type": "object", "properties": {"first": {"type": "string"}, "last": {"type": "string"}}},
        "Registration": {"type": "object", "required": ["email", "password", "name"], "properties": {
            "email": {"type": "string"}, "password": {"type": "string"},
            "name": {"$ref": "#/definitions/Name"},
            "role": {"type": "string", "enum": ["patient", "doctor"]},
            "phone": {"type": "string"}, "gender": {"type": "string"}, "dateOfBirth": {"type": "string"}
        }},
        "Confirmation": {"type": "object", "properties": {
            "id": {"type": "string"}, "email": {"type": "string"}, "role": {"type": "string"}
        }},
        "Login": {"type": "object", "properties": {"email": {"type": "string"}, "password": {"type": "string"}}},
        "TokenPair": {"type": "object", "properties": {"token": {"type": "string"}, "refreshToken": {"type": "string"}}},
        "UserRecord": {"type": "object", "properties": {
            "id": {"type": "string"}, "email": {"type": "string"}, "role": {"type": "string"},
            "name": {"$ref": "#/definitions/Name"},
            "profileFields": {"type": "object"}
        }},
        "LoginResult": {"type": "object", "properties": {
            "token": {"type": "string"}, "refreshToken": {"type": "string"},
            "user": {"$ref": "#/definitions/UserRecord"}
        }}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Patient Portal Sandbox API",
	Description:      "Development backend for the patient portal session client.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
