package handlers

import (
	"net/http"

	"github.com/husainf4l/rolevatev7/pkg/agent/apierror"
	"github.com/husainf4l/rolevatev7/pkg/agent/mw"
	"github.com/husainf4l/rolevatev7/pkg/core"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, http.StatusNotFound, &core.Error{
		Type:      core.ErrNotFound,
		Message:   "not found",
		RequestID: reqID,
	})
}
