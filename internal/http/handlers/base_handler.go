// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tabla/internal/apperr"
	"tabla/internal/types"
)

var errBadInput = errors.New("bad input")

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

// isValidID accepts the hex IDs we generate as well as short external keys.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeBadRequest(c *gin.Context, msg string) {
	writeJSON(c, http.StatusBadRequest, errorResponse{Status: "error", Error: msg, Code: "bad_request"})
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, apperr.HTTPStatus(err), errorResponse{
		Status: "error",
		Error:  apperr.Message(err),
		Code:   apperr.Kind(err),
	})
}

// pathID reads and validates a path parameter.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeBadRequest(c, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func queryFloat(c *gin.Context, name string) (float64, bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, errBadInput
	}
	return v, true, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errBadInput
	}
	return v, nil
}

type locationReq struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func bindLocation(c *gin.Context) (float64, float64, bool) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		writeBadRequest(c, "lat and lng are required")
		return 0, 0, false
	}
	return *req.Lat, *req.Lng, true
}
