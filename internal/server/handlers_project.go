package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

type createProjectRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=4000"`
}

func listProjectsHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)

	projects, err := service.ListProjects(r.Context())
	if err != nil {
		sendError(w, r, err, "Failed to list projects")
		return
	}
	sendJSONResponse(w, projects)
}

func createProjectHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)

	var requestBody createProjectRequest
	if !decodeJSONRequest(r, w, &requestBody) {
		return
	}

	project, err := service.CreateProject(r.Context(), requestBody.Name, requestBody.Description)
	if err != nil {
		sendError(w, r, err, "Failed to create project")
		return
	}
	sendJSONResponseWithStatus(w, http.StatusCreated, project)
}

func getProjectHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)

	project, err := service.GetProject(r.Context(), mux.Vars(r)["projectId"])
	if err != nil {
		sendError(w, r, err, "Failed to load project")
		return
	}
	sendJSONResponse(w, project)
}

func renameProjectHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	projectID := mux.Vars(r)["projectId"]

	var requestBody chatNameRequest
	if !decodeJSONRequest(r, w, &requestBody) {
		return
	}

	project, err := service.RenameProject(r.Context(), projectID, requestBody.Name)
	if err != nil {
		sendError(w, r, err, "Failed to rename project")
		return
	}
	sendJSONResponse(w, project)
}

func deleteProjectHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	projectID := mux.Vars(r)["projectId"]

	if err := service.DeleteProject(r.Context(), projectID); err != nil {
		sendError(w, r, err, "Failed to delete project")
		return
	}
	sendJSONResponse(w, map[string]string{"status": "success", "projectId": projectID})
}

func projectChatsHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)

	chats, err := service.ProjectChats(r.Context(), mux.Vars(r)["projectId"])
	if err != nil {
		sendError(w, r, err, "Failed to list project chats")
		return
	}
	sendJSONResponse(w, chats)
}

func createProjectChatHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	projectID := mux.Vars(r)["projectId"]

	var requestBody chatNameRequest
	if !decodeJSONRequest(r, w, &requestBody) {
		return
	}

	chat, err := service.CreateChatInProject(r.Context(), projectID, requestBody.Name)
	if err != nil {
		sendError(w, r, err, "Failed to create chat")
		return
	}
	sendJSONResponseWithStatus(w, http.StatusCreated, chat)
}

func deleteProjectChatHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)
	vars := mux.Vars(r)

	if err := service.DeleteProjectChat(r.Context(), vars["projectId"], vars["chatId"]); err != nil {
		sendError(w, r, err, "Failed to delete chat")
		return
	}
	sendJSONResponse(w, map[string]string{"status": "success", "chatId": vars["chatId"]})
}

// dashboardHandler returns projects, standalone chats and totals in one response.
func dashboardHandler(w http.ResponseWriter, r *http.Request) {
	service := getService(w, r)

	dashboard, err := service.Dashboard(r.Context())
	if err != nil {
		sendError(w, r, err, "Failed to load dashboard")
		return
	}
	sendJSONResponse(w, dashboard)
}
