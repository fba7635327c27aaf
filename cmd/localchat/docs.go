package main

// General API documentation for swaggo. The served document lives in
// internal/httpapi/openapi.json and is mounted with -tags=swagger.
//
// @title           localchat API
// @version         1.0
// @description     HTTP API for retrieval-grounded chat over local GGUF models.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
