package health

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	config "pulsedash/app/configs"
	"pulsedash/app/core/clickup"
	"pulsedash/app/core/task"
	"pulsedash/app/pkg/logger"
)

// TaskSource is the slice of the upstream task client the health pass needs.
// *clickup.Client satisfies it.
type TaskSource interface {
	Request(ctx context.Context, endpoint string) (gjson.Result, bool)
	ListTaskPages(ctx context.Context, listID string, includeSubtasks bool) ([]gjson.Result, int)
}

// Accounts is the active client roster and who manages each account.
type Accounts struct {
	Clients  []string
	Managers map[string]string
}

// FetchActiveAccounts reads the roster list that is the single source of
// truth for which clients appear on the dashboard. Only accounts in one of
// the configured active statuses are kept.
func FetchActiveAccounts(ctx context.Context, src TaskSource, cfg config.Config) Accounts {
	accounts := Accounts{Managers: map[string]string{}}

	data, ok := src.Request(ctx, fmt.Sprintf("/list/%s/task?include_closed=true&subtasks=false", cfg.ClickUp.ActiveAccountsListID))
	if !ok {
		logger.Error("Active accounts fetch failed; roster will be empty")
		return accounts
	}

	active := map[string]bool{}
	for _, s := range cfg.Health.ActiveAccountStatuses {
		active[strings.ToLower(s)] = true
	}

	for _, t := range data.Get("tasks").Array() {
		status := strings.ToLower(strings.TrimSpace(t.Get("status.status").String()))
		if !active[status] {
			continue
		}
		name := NormalizeClientName(t.Get("name").String(), cfg.Health.ShortNameAliases)
		accounts.Clients = append(accounts.Clients, name)

		manager := t.Get("assignees.0.username").String()
		if manager == "" {
			manager = "Unassigned"
		}
		accounts.Managers[name] = manager
	}

	sort.Strings(accounts.Clients)
	logger.Info("Active accounts: %d clients (%s)", len(accounts.Clients), strings.Join(accounts.Clients, ", "))
	return accounts
}

// NormalizeClientName maps a long roster task name to its short dashboard
// alias when one matches, otherwise returns the trimmed name as-is.
func NormalizeClientName(raw string, aliases map[string]string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for fragment, short := range aliases {
		if strings.Contains(lower, fragment) {
			return short
		}
	}
	return strings.TrimSpace(raw)
}

// FetchClientTasks matches operations-space folders and recurring-client
// lists against the active roster and returns each matched client's tasks,
// subtasks included.
func FetchClientTasks(ctx context.Context, src TaskSource, cfg config.Config, clients []string) map[string][]task.Task {
	byClient := map[string][]task.Task{}
	if len(clients) == 0 {
		return byClient
	}

	excluded := map[string]bool{}
	for _, f := range cfg.Health.ExcludedFolders {
		excluded[f] = true
	}

	foldersData, _ := src.Request(ctx, fmt.Sprintf("/space/%s/folder", cfg.ClickUp.OperationsSpaceID))
	for _, folder := range foldersData.Get("folders").Array() {
		folderName := folder.Get("name").String()
		if excluded[folderName] {
			continue
		}
		client := matchFolder(folderName, clients)
		if client == "" {
			continue
		}
		for _, lst := range folder.Get("lists").Array() {
			raw, _ := src.ListTaskPages(ctx, lst.Get("id").String(), true)
			byClient[client] = append(byClient[client], parseClientTasks(raw, folderName, lst.Get("name").String(), cfg.ClickUp.ScoreFieldID)...)
		}
	}

	// Retainer clients live as lists under one shared folder.
	recurring, ok := src.Request(ctx, fmt.Sprintf("/folder/%s", cfg.ClickUp.RecurringClientsFolderID))
	lists := recurring.Get("lists").Array()
	if !ok || len(lists) == 0 {
		fallback, _ := src.Request(ctx, fmt.Sprintf("/folder/%s/list", cfg.ClickUp.RecurringClientsFolderID))
		lists = fallback.Get("lists").Array()
	}
	for _, lst := range lists {
		listName := lst.Get("name").String()
		client := matchList(listName, clients)
		if client == "" {
			continue
		}
		raw, _ := src.ListTaskPages(ctx, lst.Get("id").String(), true)
		byClient[client] = append(byClient[client], parseClientTasks(raw, "Recurring Clients", listName, cfg.ClickUp.ScoreFieldID)...)
	}

	logger.Info("Fetched tasks for %d clients", len(byClient))
	return byClient
}

// matchFolder treats a folder as a client's when the names are equal or the
// client name appears inside the folder name.
func matchFolder(folderName string, clients []string) string {
	folderLower := strings.ToLower(folderName)
	for _, client := range clients {
		clientLower := strings.ToLower(client)
		if clientLower == folderLower || strings.Contains(folderLower, clientLower) {
			return client
		}
	}
	return ""
}

// matchList is looser than matchFolder: retainer list names are sometimes a
// truncation of the client name, so containment is checked both ways.
func matchList(listName string, clients []string) string {
	listLower := strings.ToLower(listName)
	for _, client := range clients {
		clientLower := strings.ToLower(client)
		if strings.Contains(listLower, clientLower) || strings.Contains(clientLower, listLower) {
			return client
		}
	}
	return ""
}

func parseClientTasks(raw []gjson.Result, folder, list, scoreFieldID string) []task.Task {
	tasks := make([]task.Task, 0, len(raw))
	for _, r := range raw {
		t, ok := clickup.ParseTask(r, folder, list, nil, scoreFieldID)
		if !ok {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks
}
