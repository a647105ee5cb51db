package api

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"

	"taskboard/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{
	"tasks.html",
	"login.html",
	"register.html",
	"task_form.html",
	"about.html",
	"not_found.html",
	"error.html",
}

// pageData is the payload every page template receives.
type pageData struct {
	Title            string
	User             *domain.User
	Flashes          []flashMessage
	Tasks            []domain.Task
	Task             *domain.Task
	FormAction       string
	Next             string
	Username         string
	MaxContentLength int
}

// templateRenderer implements echo.Renderer over the embedded pages.
type templateRenderer struct {
	pages map[string]*template.Template
}

func newTemplateRenderer() (*templateRenderer, error) {
	r := &templateRenderer{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		r.pages[name] = tmpl
	}
	return r, nil
}

func (r *templateRenderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown template %q", name)
	}
	return tmpl.ExecuteTemplate(w, "layout", data)
}

// render fills in the ambient fields and writes the page.
func render(c echo.Context, status int, name string, data pageData) error {
	if u, ok := currentUser(c); ok {
		data.User = &u
	}
	data.Flashes = popFlashes(c)
	data.MaxContentLength = domain.MaxContentLength
	return c.Render(status, name, data)
}
