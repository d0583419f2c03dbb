package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultramatch/src/middleware"
)

type fakeEngineState struct {
	running bool
}

func (f *fakeEngineState) IsRunning() bool { return f.running }

func gatedApp(sa *middleware.ServiceAvailability) *fiber.App {
	app := fiber.New()
	app.Use(sa.Middleware())
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/orders", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func get(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	return resp
}

func TestMaintenanceModeRejectsRequests(t *testing.T) {
	sa := middleware.NewServiceAvailability(&fakeEngineState{running: true}, 0)
	sa.SetMaintenanceMode(true)
	app := gatedApp(sa)

	resp := get(t, app, "/orders")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	sa.SetMaintenanceMode(false)
	resp = get(t, app, "/orders")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthBypassesMaintenanceMode(t *testing.T) {
	sa := middleware.NewServiceAvailability(&fakeEngineState{running: true}, 0)
	sa.SetMaintenanceMode(true)
	app := gatedApp(sa)

	resp := get(t, app, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStoppedEngineRejectsRequests(t *testing.T) {
	state := &fakeEngineState{running: false}
	app := gatedApp(middleware.NewServiceAvailability(state, 0))

	resp := get(t, app, "/orders")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// health stays reachable so orchestration can see the process is alive
	resp = get(t, app, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	state.running = true
	resp = get(t, app, "/orders")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNilEngineStateIsIgnored(t *testing.T) {
	app := gatedApp(middleware.NewServiceAvailability(nil, 0))

	resp := get(t, app, "/orders")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInFlightCapRejectsWhenSaturated(t *testing.T) {
	sa := middleware.NewServiceAvailability(&fakeEngineState{running: true}, 2)

	release := make(chan struct{})
	app := fiber.New()
	app.Use(sa.Middleware())
	app.Get("/slow", func(c *fiber.Ctx) error {
		<-release
		return c.SendString("ok")
	})

	done := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/slow", nil), -1)
			if err != nil {
				done <- 0
				return
			}
			done <- resp.StatusCode
		}()
	}

	// wait until both slow requests are counted in flight
	assert.Eventually(t, func() bool {
		return sa.GetInFlightRequests() == 2
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/slow", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	close(release)
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, <-done)
	}
}
