package handlers

import "github.com/gofiber/fiber/v2"

// Routes registers the API on router
func Routes(router fiber.Router) {
	router.Get("/health", Health)

	indexes := router.Group("/indexes")
	{
		// Index management
		indexes.Get("/", ListIndexes)
		indexes.Post("/", CreateIndex)
		indexes.Delete("/:id", DeleteIndex)
		indexes.Patch("/:id", UpdateIndex)

		// Document management
		indexes.Post("/:id/documents", AddDocuments)
		indexes.Delete("/:id/documents", DeleteDocuments)
		indexes.Delete("/:id/documents/:documentid", DeleteDocument)
		indexes.Patch("/:id/documents/:documentid", UpdateDocument)
		indexes.Post("/:id/loads", LoadTable)

		// Search
		indexes.Post("/:id/searches", Search)
		indexes.Post("/:id/executions", Execute)
		indexes.Post("/:id/tables", FetchTable)
	}
}
