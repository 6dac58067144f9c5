package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/drugboard/feedengine/apperr"
	. "github.com/drugboard/feedengine/utils/log"
)

// Every response uses the same envelope so clients parse one shape.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, envelope{Success: true, Data: data})
}

// fail maps the error taxonomy to status codes. Dependency failures are
// logged with their cause but surface as an opaque 500.
func fail(c *gin.Context, err error) {
	switch {
	case apperr.IsValidation(err):
		c.JSON(http.StatusBadRequest, envelope{Success: false, Message: err.Error()})
	case apperr.IsNotFound(err):
		c.JSON(http.StatusNotFound, envelope{Success: false, Message: err.Error()})
	case apperr.IsDependency(err):
		Log.Errorf("request %s %s hit a failing dependency: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, envelope{Success: false, Message: "internal error"})
	default:
		Log.Errorf("request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, envelope{Success: false, Message: "internal error"})
	}
}
