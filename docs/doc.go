// Package docs provides generated OpenAPI documentation.
//
// Bindery API
//
//	@title			Bindery API
//	@version		1.0
//	@description	Document to EPUB conversion API: submit PDFs, follow progress, fetch quality reports and EPUBs.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/bindery
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/bindery/serve.go -o ./swagger --outputTypes go --parseDependency --parseInternal
