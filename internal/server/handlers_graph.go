package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

type createBranchRequest struct {
	HeadMessageID string `json:"headMessageId" validate:"required,uuid"`
}

type switchBranchRequest struct {
	BranchID string `json:"branchId" validate:"required,uuid"`
}

// messageRequest is the body of both append and edit. BranchID is optional.
type messageRequest struct {
	Content  string `json:"content" validate:"required"`
	BranchID string `json:"branchId" validate:"omitempty,uuid"`
}

func listBranchesHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	branches, err := service.ListBranches(r.Context(), chatID)
	if err != nil {
		sendError(w, r, err, "Failed to list branches")
		return
	}
	sendJSONResponse(w, branches)
}

func createBranchHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	var requestBody createBranchRequest
	if !decodeJSONRequest(r, w, &requestBody) {
		return
	}

	branch, err := service.CreateBranch(r.Context(), chatID, requestBody.HeadMessageID)
	if err != nil {
		sendError(w, r, err, "Failed to create branch")
		return
	}
	sendJSONResponseWithStatus(w, http.StatusCreated, branch)
}

func switchBranchHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	var requestBody switchBranchRequest
	if !decodeJSONRequest(r, w, &requestBody) {
		return
	}

	if err := service.SwitchActiveBranch(r.Context(), chatID, requestBody.BranchID); err != nil {
		sendError(w, r, err, "Failed to switch active branch")
		return
	}

	sendJSONResponse(w, map[string]string{
		"status":         "success",
		"activeBranchId": requestBody.BranchID,
	})
}

func activeMessagesHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	messages, err := service.ActiveMessages(r.Context(), chatID)
	if err != nil {
		sendError(w, r, err, "Failed to load messages")
		return
	}
	sendJSONResponse(w, messages)
}

// appendMessageHandler runs one user turn and waits for the assistant's reply.
// When the reply fails after the user message was committed, the error body
// carries the partial result.
func appendMessageHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	var requestBody messageRequest
	if !decodeJSONRequest(r, w, &requestBody) {
		return
	}

	result, err := service.Append(r.Context(), chatID, requestBody.BranchID, requestBody.Content)
	if err != nil {
		if result.UserMessage.ID != "" {
			sendErrorWithResult(w, r, err, "Failed to complete turn", result)
		} else {
			sendError(w, r, err, "Failed to append message")
		}
		return
	}
	sendJSONResponseWithStatus(w, http.StatusCreated, result)
}

func editMessageHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	vars := mux.Vars(r)

	var requestBody messageRequest
	if !decodeJSONRequest(r, w, &requestBody) {
		return
	}

	result, err := service.EditWithBranch(r.Context(), vars["chatId"], vars["messageId"], requestBody.Content, requestBody.BranchID)
	if err != nil {
		if result.NewBranch.ID != "" {
			sendErrorWithResult(w, r, err, "Failed to load edited branch", result)
		} else {
			sendError(w, r, err, "Failed to edit message")
		}
		return
	}
	sendJSONResponseWithStatus(w, http.StatusCreated, result)
}

func siblingsHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	vars := mux.Vars(r)

	siblings, err := service.Siblings(r.Context(), vars["chatId"], vars["messageId"])
	if err != nil {
		sendError(w, r, err, "Failed to load siblings")
		return
	}
	sendJSONResponse(w, siblings)
}

func headsHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	heads, err := service.Heads(r.Context(), chatID)
	if err != nil {
		sendError(w, r, err, "Failed to load heads")
		return
	}
	sendJSONResponse(w, heads)
}

// chainHandler resolves the transcript ending at ?head=.
func chainHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	head := r.URL.Query().Get("head")
	if head == "" {
		sendBadRequestError(w, r, "head is required")
		return
	}

	messages, err := service.BranchMessages(r.Context(), chatID, head)
	if err != nil {
		sendError(w, r, err, "Failed to resolve chain")
		return
	}
	sendJSONResponse(w, messages)
}

func editRecordsHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	records, err := service.ListEditRecords(r.Context(), chatID)
	if err != nil {
		sendError(w, r, err, "Failed to list edit records")
		return
	}
	sendJSONResponse(w, records)
}

func compareHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	query := r.URL.Query()
	a, b := query.Get("a"), query.Get("b")
	if a == "" || b == "" {
		sendBadRequestError(w, r, "both a and b branch ids are required")
		return
	}

	comparison, err := service.Compare(r.Context(), chatID, a, b)
	if err != nil {
		sendError(w, r, err, "Failed to compare branches")
		return
	}
	sendJSONResponse(w, comparison)
}
