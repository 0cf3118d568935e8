package server

import (
	"net/http"
	"sort"

	"github.com/fvbommel/sortorder"
	"github.com/gorilla/mux"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

type chatNameRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

type chatStatusRequest struct {
	Status ChatStatus `json:"status" validate:"required,oneof=active archived"`
}

func listChatsHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)

	var filter ChatFilter
	query := r.URL.Query()
	if s := query.Get("status"); s != "" {
		status := ChatStatus(s)
		if status != ChatStatusActive && status != ChatStatusArchived {
			sendBadRequestError(w, r, "Unknown chat status: "+s)
			return
		}
		filter.Status = &status
	}

	chats, err := service.ListChats(r.Context(), filter)
	if err != nil {
		sendError(w, r, err, "Failed to list chats")
		return
	}

	switch query.Get("sort") {
	case "", "updated":
	case "name":
		sort.SliceStable(chats, func(i, j int) bool {
			return sortorder.NaturalLess(chats[i].Name, chats[j].Name)
		})
	default:
		sendBadRequestError(w, r, "Unknown sort order: "+query.Get("sort"))
		return
	}

	sendJSONResponse(w, chats)
}

func createChatHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)

	var requestBody chatNameRequest
	if !decodeJSONRequest(r, w, &requestBody) {
		return
	}

	chat, err := service.CreateChat(r.Context(), requestBody.Name)
	if err != nil {
		sendError(w, r, err, "Failed to create chat")
		return
	}
	sendJSONResponseWithStatus(w, http.StatusCreated, chat)
}

func getChatHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)

	chat, err := service.GetChat(r.Context(), mux.Vars(r)["chatId"])
	if err != nil {
		sendError(w, r, err, "Failed to load chat")
		return
	}
	sendJSONResponse(w, chat)
}

func renameChatHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	var requestBody chatNameRequest
	if !decodeJSONRequest(r, w, &requestBody) {
		return
	}

	chat, err := service.RenameChat(r.Context(), chatID, requestBody.Name)
	if err != nil {
		sendError(w, r, err, "Failed to rename chat")
		return
	}
	sendJSONResponse(w, chat)
}

func setChatStatusHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	var requestBody chatStatusRequest
	if !decodeJSONRequest(r, w, &requestBody) {
		return
	}

	chat, err := service.SetChatStatus(r.Context(), chatID, requestBody.Status)
	if err != nil {
		sendError(w, r, err, "Failed to update chat status")
		return
	}
	sendJSONResponse(w, chat)
}

func deleteChatHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	if err := service.DeleteChat(r.Context(), chatID); err != nil {
		sendError(w, r, err, "Failed to delete chat")
		return
	}
	sendJSONResponse(w, map[string]string{"status": "success", "chatId": chatID})
}

// handleCall reports (GET) or cancels (DELETE) the running append of a chat.
func handleCall(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	chatID := mux.Vars(r)["chatId"]

	switch r.Method {
	case http.MethodGet:
		call, err := service.Call(chatID)
		if err != nil {
			sendError(w, r, err, "Failed to get call")
			return
		}
		sendJSONResponse(w, call)

	case http.MethodDelete:
		if err := service.CancelCall(chatID); err != nil {
			sendError(w, r, err, "Failed to cancel call")
			return
		}
		sendJSONResponse(w, map[string]string{"status": "cancelled", "chatId": chatID})
	}
}
