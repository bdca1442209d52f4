package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{Logger: zap.NewNop()}))
	app.Post("/api/v1/query", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/api/v1/vision/process", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/api/v1/vision/process-batch", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestQueryValidation(t *testing.T) {
	app := testApp()

	assert.Equal(t, fiber.StatusOK,
		postJSON(t, app, "/api/v1/query", `{"query":"8-inch gate valves near STA 12+50","project_id":"p1"}`))

	assert.Equal(t, fiber.StatusBadRequest,
		postJSON(t, app, "/api/v1/query", `{"project_id":"p1"}`),
		"missing query")

	assert.Equal(t, fiber.StatusBadRequest,
		postJSON(t, app, "/api/v1/query", `{"query":"valves"}`),
		"missing project_id")

	assert.Equal(t, fiber.StatusBadRequest,
		postJSON(t, app, "/api/v1/query", `{"query":"x'; DROP TABLE chunks; --","project_id":"p1"}`),
		"injection attempt")
}

func TestDomainVocabularyNotRejected(t *testing.T) {
	app := testApp()

	// "drop" and "union" are ordinary words on utility plans.
	for _, q := range []string{
		"where are the drop inlets on sheet CU-107",
		"union fittings for waterline A",
		"select fill requirements near STA 4+00",
	} {
		body := `{"query":"` + q + `","project_id":"p1"}`
		assert.Equal(t, fiber.StatusOK, postJSON(t, app, "/api/v1/query", body), q)
	}
}

func TestContentTypeEnforced(t *testing.T) {
	app := testApp()

	req := httptest.NewRequest("POST", "/api/v1/query", strings.NewReader("query=valves"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestVisionDocumentIDMustBeUUID(t *testing.T) {
	app := testApp()

	assert.Equal(t, fiber.StatusBadRequest,
		postJSON(t, app, "/api/v1/vision/process", `{"document_id":"not-a-uuid"}`))

	assert.Equal(t, fiber.StatusOK,
		postJSON(t, app, "/api/v1/vision/process", `{"document_id":"2f5d1f6e-7a94-4d5f-9c2b-08a1e4c53f11"}`))
}

func TestVisionBatchTakesDocumentIDList(t *testing.T) {
	app := testApp()

	assert.Equal(t, fiber.StatusBadRequest,
		postJSON(t, app, "/api/v1/vision/process-batch", `{"document_id":"2f5d1f6e-7a94-4d5f-9c2b-08a1e4c53f11"}`))

	assert.Equal(t, fiber.StatusBadRequest,
		postJSON(t, app, "/api/v1/vision/process-batch", `{"document_ids":[]}`))

	assert.Equal(t, fiber.StatusBadRequest,
		postJSON(t, app, "/api/v1/vision/process-batch", `{"document_ids":["not-a-uuid"]}`))

	assert.Equal(t, fiber.StatusOK,
		postJSON(t, app, "/api/v1/vision/process-batch",
			`{"document_ids":["2f5d1f6e-7a94-4d5f-9c2b-08a1e4c53f11","5b0f0d1c-3a7e-4f88-b6a9-2d4f1c7e9a22"]}`))
}
