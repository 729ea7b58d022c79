// Package docs регистрирует описание HTTP API для swagger UI.
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
        "/api/sessions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Список сессий",
                "parameters": [
                    {"type": "integer", "default": 50, "description": "Лимит", "name": "limit", "in": "query"},
                    {"type": "integer", "default": 0, "description": "Смещение", "name": "offset", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Загрузить запись ECG/BP/MSNA",
                "parameters": [
                    {"type": "file", "description": "Файл записи", "name": "file", "in": "formData", "required": true},
                    {"type": "number", "description": "Частота дискретизации, Гц", "name": "fs", "in": "formData"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/session.SessionResponse"}},
                    "400": {"description": "Ошибка формата или конфигурации"}
                }
            }
        },
        "/api/sessions/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Состояние сессии",
                "parameters": [{"type": "string", "description": "ID сессии", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/session.SessionResponse"}},
                    "404": {"description": "Not Found"}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Удалить сессию",
                "parameters": [{"type": "string", "description": "ID сессии", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/sessions/{id}/config": {
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Annotation"],
                "summary": "Изменить конфигурацию",
                "parameters": [
                    {"type": "string", "description": "ID сессии", "name": "id", "in": "path", "required": true},
                    {"description": "Поля конфигурации", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/session.ConfigRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/session.SessionResponse"}},
                    "400": {"description": "Bad Request"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/api/sessions/{id}/lock": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Annotation"],
                "summary": "Зафиксировать конфигурацию",
                "parameters": [{"type": "string", "description": "ID сессии", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/session.SessionResponse"}},
                    "409": {"description": "Conflict"},
                    "422": {"description": "R-пики не найдены"}
                }
            }
        },
        "/api/sessions/{id}/step": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Annotation"],
                "summary": "Шаг разметки",
                "parameters": [
                    {"type": "string", "description": "ID сессии", "name": "id", "in": "path", "required": true},
                    {"description": "Решение: burst, no_burst или error", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/session.StepRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/session.SessionResponse"}},
                    "400": {"description": "Bad Request"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/api/sessions/{id}/auto": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Annotation"],
                "summary": "Автоматическая разметка",
                "parameters": [{"type": "string", "description": "ID сессии", "name": "id", "in": "path", "required": true}],
                "responses": {"202": {"description": "Accepted"}, "409": {"description": "Conflict"}}
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["Annotation"],
                "summary": "Остановить автоматическую разметку",
                "parameters": [{"type": "string", "description": "ID сессии", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            }
        },
        "/api/sessions/{id}/results": {
            "get": {
                "produces": ["application/json", "text/tab-separated-values"],
                "tags": ["Results"],
                "summary": "Таблица результата",
                "parameters": [
                    {"type": "string", "description": "ID сессии", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "json или tsv", "name": "format", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/session.ResultsResponse"}},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/api/sessions/{id}/save": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Results"],
                "summary": "Сохранить результат",
                "parameters": [
                    {"type": "string", "description": "ID сессии", "name": "id", "in": "path", "required": true},
                    {"description": "Заметки", "name": "request", "in": "body", "schema": {"$ref": "#/definitions/session.SaveSessionRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}
            }
        }
    },
    "definitions": {
        "session.ConfigRequest": {
            "type": "object",
            "properties": {
                "fs": {"type": "number"},
                "baseline": {"type": "number"},
                "ecg_trigger": {"type": "number"},
                "msna_calibration": {"type": "number"},
                "bp_filter": {"type": "string", "enum": ["band", "low"]},
                "phase_mode": {"type": "string", "enum": ["rectified", "analytic"]},
                "min_peak_distance": {"type": "integer"}
            }
        },
        "session.StepRequest": {
            "type": "object",
            "properties": {"decision": {"type": "string", "enum": ["burst", "no_burst", "error"]}}
        },
        "session.SaveSessionRequest": {
            "type": "object",
            "properties": {"notes": {"type": "string"}}
        },
        "session.SessionResponse": {
            "type": "object",
            "properties": {
                "session": {"type": "object"},
                "record": {"type": "object"}
            }
        },
        "session.ResultsResponse": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "count": {"type": "integer"},
                "records": {"type": "array", "items": {"type": "object"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "MSNA Analyzer API",
	Description:      "Разметка вспышек MSNA по циклам ЭКГ: загрузка записи, настройка, ручной и автоматический проход, выгрузка таблицы.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
