package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Code    string                 `json:"code"`
	Data    json.RawMessage        `json:"data"`
	Meta    map[string]interface{} `json:"meta"`
	Details json.RawMessage        `json:"details"`
}

// newTestApp mounts routes under /api/v2 with the given identity in locals.
// An empty role leaves the request anonymous.
func newTestApp(role string, register func(router fiber.Router)) *fiber.App {
	app := fiber.New()
	api := app.Group("/api/v2", func(c *fiber.Ctx) error {
		if role != "" {
			c.Locals("user_id", uint(7))
			c.Locals("user_role", role)
		}
		return c.Next()
	})
	register(api)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload interface{}) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(body, target))
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var payload envelope
	decodeResponse(t, resp, &payload)
	return payload
}

// requireContract validates the envelope data against testdata/<name>.schema.json.
func requireContract(t *testing.T, name string, data json.RawMessage) {
	t.Helper()

	path, err := filepath.Abs(filepath.Join("testdata", name+".schema.json"))
	require.NoError(t, err)

	schema, err := jsonschema.NewCompiler().Compile("file://" + filepath.ToSlash(path))
	require.NoError(t, err)

	var document interface{}
	require.NoError(t, json.Unmarshal(data, &document))
	require.NoError(t, schema.Validate(document))
}
