package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	healthTimeout = 2 * time.Second
	deniedMessage = "You can only edit/update/delete your own tasks."
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Credentials  Credentials
	Tasks        Tasks
	Tokens       *SessionTokens
	Health       []Pinger
	Logger       *log.Logger
	CookieSecure bool
}

// Register wires up rendering, session middleware and all routes on e.
func Register(e *echo.Echo, deps Deps) error {
	if deps.Logger == nil {
		return errors.New("api: logger is required")
	}
	renderer, err := newTemplateRenderer()
	if err != nil {
		return err
	}
	e.Renderer = renderer
	e.HTTPErrorHandler = newErrorHandler(deps.Logger)

	e.Use(observeRequests(deps.Logger))
	e.Use(session.Middleware(newFlashStore(deps.Tokens.Secret, deps.CookieSecure)))
	e.Use(identify(deps.Credentials, deps.Tokens, deps.Logger))

	authed := requireSession()
	getPost := []string{http.MethodGet, http.MethodPost}

	e.GET("/about", about)
	e.GET("/healthz", healthz(deps.Health, deps.Logger))
	e.Match(getPost, "/login", login(deps.Credentials, deps.Tokens))
	e.Match(getPost, "/register", register(deps.Credentials))

	e.GET("/", listTasks(deps.Tasks), authed)
	e.GET("/tasks", listTasks(deps.Tasks), authed)
	e.GET("/logout", logout(deps.Credentials, deps.Tokens), authed)
	e.Match(getPost, "/task_form", taskForm(deps.Tasks), authed)
	e.Match(getPost, "/task_form/:id", taskForm(deps.Tasks), authed)
	e.GET("/update_task/:id", toggleTask(deps.Tasks), authed)
	e.GET("/delete_task/:id", deleteTask(deps.Tasks), authed)
	return nil
}

func about(c echo.Context) error {
	return render(c, http.StatusOK, "about.html", pageData{Title: "About"})
}

func healthz(pingers []Pinger, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		for _, p := range pingers {
			if err := p.Ping(ctx); err != nil {
				logger.WithError(err).Warn("health check failed")
				return c.String(http.StatusServiceUnavailable, "unavailable")
			}
		}
		return c.String(http.StatusOK, "ok")
	}
}

func login(creds Credentials, tokens *SessionTokens) echo.HandlerFunc {
	return func(c echo.Context) error {
		nextParam := c.QueryParam("next")
		next := safeNext(nextParam)
		if c.Request().Method == http.MethodGet {
			if _, ok := currentUser(c); ok {
				return c.Redirect(http.StatusFound, next)
			}
			return render(c, http.StatusOK, "login.html", pageData{Title: "Log in", Next: nextParam})
		}

		ctx := c.Request().Context()
		username := c.FormValue("username")
		sess, err := creds.Authenticate(ctx, username, c.FormValue("password"))
		if err != nil {
			if errors.Is(err, domain.ErrInvalidCredentials) {
				metricsFrom(c).SetOutcome("invalid_credentials")
				addFlash(c, flashDanger, "Invalid username or password")
				return render(c, http.StatusOK, "login.html", pageData{Title: "Log in", Next: nextParam, Username: username})
			}
			metricsFrom(c).SetErrorStage("authenticate")
			return err
		}

		if previous, ok := currentSessionID(c); ok {
			if err := creds.EndSession(ctx, previous); err != nil {
				log.WithError(err).Warn("end previous session")
			}
		}
		if err := tokens.SetCookie(c, sess); err != nil {
			metricsFrom(c).SetErrorStage("issue_token")
			return err
		}
		metricsFrom(c).SetUserID(sess.UserID)
		addFlash(c, flashSuccess, "Login successful!")
		return c.Redirect(http.StatusFound, next)
	}
}

func logout(creds Credentials, tokens *SessionTokens) echo.HandlerFunc {
	return func(c echo.Context) error {
		if sid, ok := currentSessionID(c); ok {
			if err := creds.EndSession(c.Request().Context(), sid); err != nil {
				metricsFrom(c).SetErrorStage("end_session")
				return err
			}
		}
		tokens.ClearCookie(c)
		addFlash(c, flashInfo, "You have been logged out")
		return c.Redirect(http.StatusFound, "/login")
	}
}

func register(creds Credentials) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Method == http.MethodGet {
			if _, ok := currentUser(c); ok {
				return c.Redirect(http.StatusFound, "/")
			}
			return render(c, http.StatusOK, "register.html", pageData{Title: "Register"})
		}

		username := c.FormValue("username")
		_, err := creds.Register(c.Request().Context(), username, c.FormValue("password"))
		var verr *domain.ValidationError
		switch {
		case err == nil:
			addFlash(c, flashSuccess, "Account created successfully! Please log in.")
			return c.Redirect(http.StatusFound, "/login")
		case errors.Is(err, domain.ErrDuplicateUsername):
			metricsFrom(c).SetOutcome("duplicate_username")
			addFlash(c, flashDanger, "Username already taken")
		case errors.As(err, &verr):
			metricsFrom(c).SetOutcome("validation")
			addFlash(c, flashDanger, verr.Reason)
		default:
			metricsFrom(c).SetErrorStage("register")
			return err
		}
		return render(c, http.StatusOK, "register.html", pageData{Title: "Register", Username: username})
	}
}

func listTasks(tasks Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, _ := currentUser(c)
		list, err := tasks.ListForUser(c.Request().Context(), user)
		if err != nil {
			metricsFrom(c).SetErrorStage("storage")
			return err
		}
		return render(c, http.StatusOK, "tasks.html", pageData{Title: "Tasks", Tasks: list})
	}
}

// taskForm renders and submits the create form (/task_form) and the edit
// form (/task_form/:id).
func taskForm(tasks Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user, _ := currentUser(c)

		var (
			task   *domain.Task
			id     int64
			action = "/task_form"
		)
		if c.Param("id") != "" {
			var err error
			if id, err = taskIDParam(c); err != nil {
				return err
			}
			t, err := tasks.GetOwned(ctx, id, user)
			if err != nil {
				return taskError(c, err)
			}
			task = &t
			action = "/task_form/" + strconv.FormatInt(id, 10)
		}

		if c.Request().Method == http.MethodGet {
			title := "New task"
			if task != nil {
				title = "Edit task"
			}
			return render(c, http.StatusOK, "task_form.html", pageData{Title: title, Task: task, FormAction: action})
		}

		form, err := c.FormParams()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid form")
		}
		content := form.Get("task")
		_, completed := form["completed"]

		if task != nil {
			_, err = tasks.Update(ctx, id, content, completed, user)
		} else {
			_, err = tasks.Create(ctx, user, content, completed)
		}
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			metricsFrom(c).SetOutcome("validation")
			addFlash(c, flashDanger, verr.Reason)
			return c.Redirect(http.StatusFound, action)
		}
		if err != nil {
			return taskError(c, err)
		}
		addFlash(c, flashSuccess, "Task saved successfully!")
		return c.Redirect(http.StatusFound, "/")
	}
}

func toggleTask(tasks Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := taskIDParam(c)
		if err != nil {
			return err
		}
		user, _ := currentUser(c)
		if _, err := tasks.ToggleCompleted(c.Request().Context(), id, user); err != nil {
			return taskError(c, err)
		}
		addFlash(c, flashSuccess, "Task updated successfully!")
		return c.Redirect(http.StatusFound, "/")
	}
}

func deleteTask(tasks Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := taskIDParam(c)
		if err != nil {
			return err
		}
		user, _ := currentUser(c)
		if err := tasks.Delete(c.Request().Context(), id, user); err != nil {
			return taskError(c, err)
		}
		addFlash(c, flashSuccess, "Task deleted successfully!")
		return c.Redirect(http.StatusFound, "/")
	}
}

// taskError maps task service errors onto responses: unknown ids are a 404,
// ownership failures a flash and redirect, anything else is fatal.
func taskError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		metricsFrom(c).SetOutcome("not_found")
		return echo.ErrNotFound
	case errors.Is(err, domain.ErrDenied):
		metricsFrom(c).SetOutcome("denied")
		addFlash(c, flashDanger, deniedMessage)
		return c.Redirect(http.StatusFound, "/")
	default:
		metricsFrom(c).SetErrorStage("storage")
		return err
	}
}
