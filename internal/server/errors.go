package server

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/csrf"
	log "github.com/sirupsen/logrus"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Kind         ErrorKind   `json:"kind"`
	Message      string      `json:"message"`
	CommittedIDs []string    `json:"committedIds"`
	Result       interface{} `json:"result,omitempty"` // what the failed operation did produce
}

func errorStatus(kind ErrorKind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindConflict, KindCancelled:
		return http.StatusConflict
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindPartialFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// sendError reports err with the status of its kind. Unclassified errors are logged
// and answered with a generic message.
func sendError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	sendErrorWithResult(w, r, err, msg, nil)
}

func sendErrorWithResult(w http.ResponseWriter, r *http.Request, err error, msg string, result interface{}) {
	kind := KindOf(err)
	if kind == KindInternal {
		sendInternalServerError(w, r, err, msg)
		return
	}

	message := err.Error()
	var e *Error
	if errors.As(err, &e) {
		message = e.Message
	}
	committed := CommittedIDsOf(err)
	if committed == nil {
		committed = []string{}
	}
	if kind == KindUpstreamTimeout || kind == KindPartialFailure {
		log.WithError(err).WithField("committed", committed).Warnf("%s %s: %s", r.Method, r.URL.Path, msg)
	}
	sendJSONResponseWithStatus(w, errorStatus(kind), errorResponse{
		Kind:         kind,
		Message:      message,
		CommittedIDs: committed,
		Result:       result,
	})
}

func sendBadRequestError(w http.ResponseWriter, r *http.Request, msg string) {
	sendJSONResponseWithStatus(w, http.StatusBadRequest, errorResponse{Kind: KindInvalidArgument, Message: msg, CommittedIDs: []string{}})
}

func sendInternalServerError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log.WithError(err).Errorf("%s %s: %s", r.Method, r.URL.Path, msg)
	sendJSONResponseWithStatus(w, http.StatusInternalServerError, errorResponse{Kind: KindInternal, Message: msg, CommittedIDs: []string{}})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	sendJSONResponseWithStatus(w, http.StatusNotFound, errorResponse{
		Kind:         KindNotFound,
		Message:      fmt.Sprintf("no such endpoint: %s %s", r.Method, r.URL.Path),
		CommittedIDs: []string{},
	})
}

func csrfFailureHandler(w http.ResponseWriter, r *http.Request) {
	log.WithError(csrf.FailureReason(r)).Warnf("%s %s: CSRF check failed", r.Method, r.URL.Path)
	sendJSONResponseWithStatus(w, http.StatusForbidden, errorResponse{
		Kind:         KindInvalidArgument,
		Message:      "CSRF token invalid",
		CommittedIDs: []string{},
	})
}

// validationMessage turns validator errors into one line naming the offending fields.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request body"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return "Invalid request: " + strings.Join(parts, ", ")
}
