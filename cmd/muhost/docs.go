package main

// General API documentation for swaggo. Generate with `swag init -g cmd/muhost/docs.go -o docs`.
//
// @title           muhost API
// @version         1.0
// @description     Loopback HTTP API of the local super-resolution host used by the MangaUpscaler browser extension.
//
// @contact.name   muhost maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @host      127.0.0.1:48159
// @BasePath  /
//
// @schemes http
