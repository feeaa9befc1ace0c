// Package home serves the browser pages and the liveness probe.
package home

import (
	"embed"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
)

//go:embed templates/*.html
var templates embed.FS

// Engine parses the embedded page templates. Pages render inside the "layout" template.
func Engine() *html.Engine {
	return html.NewFileSystem(http.FS(templates), ".html")
}

type Route struct {
	Area   string
	Method string
	Path   string
}

var routes = []Route{
	{"CSV", "POST", "/api/csv/upload"},
	{"CSV", "GET", "/api/csv/uploads"},
	{"Customers", "GET", "/api/customers"},
	{"Email", "GET", "/api/email/campaigns"},
	{"LLM", "POST", "/api/llm/chat"},
	{"ML", "POST", "/api/ml/predict"},
	{"Automation", "POST", "/api/business-automation/create"},
	{"Notion", "POST", "/api/notion/{story_id}/tasks"},
	{"Reports", "GET", "/api/reports/analytics"},
	{"Reports", "GET", "/api/reports/pdf"},
}

type Handler struct {
	Version string
	Model   string
}

func (h *Handler) Index(c *fiber.Ctx) error {
	return c.Render("templates/index", fiber.Map{"Title": "BizPilot", "Version": h.Version, "Routes": routes},
		"templates/layout")
}

func (h *Handler) Chat(c *fiber.Ctx) error {
	return c.Render("templates/chat", fiber.Map{"Title": "Chat", "Model": h.Model}, "templates/layout")
}

// Healthz reports liveness only. It does not touch the database.
func Healthz(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
}

func (h *Handler) Mount(r fiber.Router) {
	r.Get("/", h.Index)
	r.Get("/chat", h.Chat)
	r.Get("/healthz", Healthz)
}
