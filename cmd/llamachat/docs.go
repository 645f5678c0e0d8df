package main

// General API documentation for swaggo. The served document lives in
// internal/httpapi/swagger.go (build with -tags=swagger).
//
// @title           llamachat API
// @version         1.0
// @description     HTTP API for a single local-model chat session.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
