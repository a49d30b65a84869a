// Package docs は /swagger で配信する OpenAPI 定義。
// ハンドラの godoc 注釈と合わせて更新すること (swag init で再生成可)。
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "schemes": {{ marshal .Schemes }},
  "swagger": "2.0",
  "info": {
    "title": "{{.Title}}",
    "description": "{{escape .Description}}",
    "version": "{{.Version}}"
  },
  "host": "{{.Host}}",
  "basePath": "{{.BasePath}}",
  "securityDefinitions": {
    "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
  },
  "paths": {
    "/auth/register": {"post": {"tags": ["auth"], "summary": "Register a member (status pending)",
      "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}],
      "responses": {"201": {"description": "created", "schema": {"$ref": "#/definitions/Member"}}, "400": {"$ref": "#/responses/Error"}, "409": {"$ref": "#/responses/Error"}}}},
    "/auth/login": {"post": {"tags": ["auth"], "summary": "Log in and receive a bearer token",
      "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
      "responses": {"200": {"description": "ok", "schema": {"$ref": "#/definitions/LoginResponse"}}, "401": {"$ref": "#/responses/Error"}, "403": {"$ref": "#/responses/Error"}}}},
    "/me": {
      "get": {"tags": ["members"], "summary": "Own profile", "security": [{"Bearer": []}],
        "responses": {"200": {"description": "ok", "schema": {"$ref": "#/definitions/Member"}}}},
      "patch": {"tags": ["members"], "summary": "Edit own name or email", "security": [{"Bearer": []}],
        "responses": {"200": {"description": "ok", "schema": {"$ref": "#/definitions/Member"}}}}},
    "/me/password": {"put": {"tags": ["auth"], "summary": "Change own password", "security": [{"Bearer": []}],
      "responses": {"204": {"description": "changed"}, "400": {"$ref": "#/responses/Error"}}}},
    "/books": {
      "get": {"tags": ["books"], "summary": "List books ordered by id",
        "parameters": [{"in": "query", "name": "q", "type": "string"}, {"in": "query", "name": "category", "type": "string"}, {"in": "query", "name": "available", "type": "boolean"}],
        "responses": {"200": {"description": "ok"}}},
      "post": {"tags": ["books"], "summary": "Add a book (admin)", "security": [{"Bearer": []}],
        "responses": {"201": {"description": "created", "schema": {"$ref": "#/definitions/Book"}}, "400": {"$ref": "#/responses/Error"}}}},
    "/books/{id}": {
      "get": {"tags": ["books"], "summary": "Get a book", "parameters": [{"$ref": "#/parameters/id"}],
        "responses": {"200": {"description": "ok", "schema": {"$ref": "#/definitions/Book"}}, "404": {"$ref": "#/responses/Error"}}},
      "put": {"tags": ["books"], "summary": "Update a book (admin)", "security": [{"Bearer": []}], "parameters": [{"$ref": "#/parameters/id"}],
        "responses": {"200": {"description": "ok", "schema": {"$ref": "#/definitions/Book"}}}},
      "delete": {"tags": ["books"], "summary": "Delete a book (admin, refused while loans are outstanding)", "security": [{"Bearer": []}], "parameters": [{"$ref": "#/parameters/id"}],
        "responses": {"204": {"description": "deleted"}, "409": {"$ref": "#/responses/Error"}}}},
    "/books/{id}/cover": {"post": {"tags": ["books"], "summary": "Upload a cover image (admin)", "security": [{"Bearer": []}], "consumes": ["multipart/form-data"],
      "parameters": [{"$ref": "#/parameters/id"}, {"in": "formData", "name": "file", "type": "file", "required": true}],
      "responses": {"200": {"description": "ok", "schema": {"$ref": "#/definitions/Book"}}, "501": {"$ref": "#/responses/Error"}}}},
    "/categories": {
      "get": {"tags": ["categories"], "summary": "Category names for the catalog filter", "responses": {"200": {"description": "ok"}}},
      "post": {"tags": ["categories"], "summary": "Add a master category", "security": [{"Bearer": []}], "responses": {"201": {"description": "created"}, "409": {"description": "duplicate name"}}}
    },
    "/categories/master": {"get": {"tags": ["categories"], "summary": "Master categories (all=1 includes disabled)", "security": [{"Bearer": []}], "parameters": [{"name": "all", "in": "query", "type": "string"}], "responses": {"200": {"description": "ok"}}}},
    "/categories/{id}": {
      "put": {"tags": ["categories"], "summary": "Rename or re-enable a category", "security": [{"Bearer": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "ok"}, "404": {"description": "not found"}}},
      "delete": {"tags": ["categories"], "summary": "Disable a category", "security": [{"Bearer": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}], "responses": {"204": {"description": "disabled"}}}
    },
    "/members": {"get": {"tags": ["members"], "summary": "List members (admin)", "security": [{"Bearer": []}],
      "parameters": [{"in": "query", "name": "q", "type": "string"}, {"in": "query", "name": "status", "type": "string"}],
      "responses": {"200": {"description": "ok"}}}},
    "/members/{id}": {"get": {"tags": ["members"], "summary": "Get a member (self or admin)", "security": [{"Bearer": []}],
      "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
      "responses": {"200": {"description": "ok", "schema": {"$ref": "#/definitions/Member"}}, "404": {"$ref": "#/responses/Error"}}}},
    "/members/{id}/status": {"patch": {"tags": ["members"], "summary": "Approve, block or unblock (admin)", "security": [{"Bearer": []}],
      "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
      "responses": {"200": {"description": "ok", "schema": {"$ref": "#/definitions/Member"}}}}},
    "/loans": {
      "get": {"tags": ["loans"], "summary": "List loans (members see their own)", "security": [{"Bearer": []}],
        "parameters": [{"in": "query", "name": "memberId", "type": "string"}, {"in": "query", "name": "bookId", "type": "integer"}, {"in": "query", "name": "status", "type": "string"}],
        "responses": {"200": {"description": "ok"}}},
      "post": {"tags": ["loans"], "summary": "Borrow a book", "security": [{"Bearer": []}],
        "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/BorrowRequest"}}],
        "responses": {"201": {"description": "created", "schema": {"$ref": "#/definitions/Loan"}}, "404": {"$ref": "#/responses/Error"}, "409": {"$ref": "#/responses/Error"}}}},
    "/loans/{id}/return": {"post": {"tags": ["loans"], "summary": "Return a loan", "security": [{"Bearer": []}], "parameters": [{"$ref": "#/parameters/id"}],
      "responses": {"200": {"description": "ok", "schema": {"$ref": "#/definitions/Loan"}}, "409": {"$ref": "#/responses/Error"}}}},
    "/loans/overdue-sweep": {"post": {"tags": ["loans"], "summary": "Mark late loans overdue now (admin)", "security": [{"Bearer": []}],
      "responses": {"200": {"description": "ok"}}}},
    "/dashboard/report.csv": {"get": {"tags": ["dashboard"], "summary": "Summary and loan list as CSV", "security": [{"Bearer": []}], "produces": ["text/csv"], "parameters": [{"name": "encoding", "in": "query", "type": "string", "enum": ["utf-8", "utf-16"]}], "responses": {"200": {"description": "csv file"}, "400": {"description": "unknown encoding"}}}},
    "/dashboard/stats": {"get": {"tags": ["dashboard"], "summary": "Admin totals", "security": [{"Bearer": []}],
      "responses": {"200": {"description": "ok"}}}},
    "/settings": {
      "get": {"tags": ["settings"], "summary": "Library settings", "responses": {"200": {"description": "ok"}}},
      "put": {"tags": ["settings"], "summary": "Update settings (admin)", "security": [{"Bearer": []}], "responses": {"200": {"description": "ok"}}}},
    "/changes": {"get": {"tags": ["changes"], "summary": "WebSocket change feed (token via header or access_token)", "security": [{"Bearer": []}],
      "responses": {"101": {"description": "switching protocols"}}}}
  },
  "parameters": {
    "id": {"in": "path", "name": "id", "type": "integer", "required": true}
  },
  "responses": {
    "Error": {"description": "error envelope", "schema": {"type": "object", "properties": {"error": {"type": "object", "properties": {
      "code": {"type": "string"}, "reason": {"type": "string"}, "message": {"type": "string"}}}}}}
  },
  "definitions": {
    "Book": {"type": "object", "properties": {"id": {"type": "integer"}, "title": {"type": "string"}, "author": {"type": "string"}, "category": {"type": "string"}, "stock": {"type": "integer"}, "cover": {"type": "string"}}},
    "Member": {"type": "object", "properties": {"id": {"type": "string"}, "name": {"type": "string"}, "email": {"type": "string"}, "role": {"type": "string"}, "status": {"type": "string", "enum": ["active", "pending", "blocked"]}, "joinDate": {"type": "string"}}},
    "Loan": {"type": "object", "properties": {"id": {"type": "integer"}, "bookId": {"type": "integer"}, "memberId": {"type": "string"}, "loanDate": {"type": "string"}, "dueDate": {"type": "string"}, "status": {"type": "string", "enum": ["borrowed", "returned", "overdue"]}, "returnedOn": {"type": "string"}}},
    "RegisterRequest": {"type": "object", "required": ["name", "email", "password", "passwordConfirm"], "properties": {"name": {"type": "string"}, "email": {"type": "string"}, "password": {"type": "string"}, "passwordConfirm": {"type": "string"}}},
    "LoginRequest": {"type": "object", "required": ["email", "password"], "properties": {"email": {"type": "string"}, "password": {"type": "string"}}},
    "LoginResponse": {"type": "object", "properties": {"token": {"type": "string"}, "expiresAt": {"type": "string"}, "session": {"type": "object"}}},
    "BorrowRequest": {"type": "object", "required": ["bookId"], "properties": {"bookId": {"type": "integer"}, "memberId": {"type": "string"}}}
  }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "libportal API",
	Description:      "Village library member portal: catalog, members, loans and a change feed.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
