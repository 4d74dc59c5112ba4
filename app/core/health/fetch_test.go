package health

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	config "pulsedash/app/configs"
)

// stubSource serves canned JSON per endpoint prefix.
type stubSource struct {
	responses map[string]string
	tasks     map[string]string
}

func (s *stubSource) Request(_ context.Context, endpoint string) (gjson.Result, bool) {
	for prefix, body := range s.responses {
		if strings.HasPrefix(endpoint, prefix) {
			return gjson.Parse(body), true
		}
	}
	return gjson.Result{}, false
}

func (s *stubSource) ListTaskPages(_ context.Context, listID string, _ bool) ([]gjson.Result, int) {
	body, ok := s.tasks[listID]
	if !ok {
		return nil, 0
	}
	return gjson.Parse(body).Get("tasks").Array(), 0
}

func fetchConfig() config.Config {
	return config.Config{
		ClickUp: config.ClickUpConfig{
			OperationsSpaceID:        "space-ops",
			RecurringClientsFolderID: "folder-rec",
			ActiveAccountsListID:     "list-accounts",
			ScoreFieldID:             "score-field",
		},
		Health: config.HealthConfig{
			ActiveAccountStatuses: []string{"engaged", "new account"},
			ShortNameAliases: map[string]string{
				"dcc marketing": "DCC",
			},
			ExcludedFolders: []string{"Client Template", "Internal Projects"},
		},
	}
}

func TestFetchActiveAccountsFiltersAndAliases(t *testing.T) {
	src := &stubSource{responses: map[string]string{
		"/list/list-accounts/task": `{"tasks": [
			{"name": "DCC Marketing LLC", "status": {"status": "Engaged"}, "assignees": [{"username": "jake"}]},
			{"name": "Acme", "status": {"status": "new account"}, "assignees": []},
			{"name": "Old Client", "status": {"status": "churned"}, "assignees": [{"username": "sean"}]}
		]}`,
	}}

	accounts := FetchActiveAccounts(context.Background(), src, fetchConfig())
	if !reflect.DeepEqual(accounts.Clients, []string{"Acme", "DCC"}) {
		t.Fatalf("clients = %v", accounts.Clients)
	}
	if accounts.Managers["DCC"] != "jake" {
		t.Fatalf("DCC manager = %q", accounts.Managers["DCC"])
	}
	if accounts.Managers["Acme"] != "Unassigned" {
		t.Fatalf("Acme manager = %q", accounts.Managers["Acme"])
	}
}

func TestFetchActiveAccountsUpstreamFailure(t *testing.T) {
	accounts := FetchActiveAccounts(context.Background(), &stubSource{}, fetchConfig())
	if len(accounts.Clients) != 0 {
		t.Fatalf("clients = %v, want empty", accounts.Clients)
	}
}

func TestNormalizeClientName(t *testing.T) {
	aliases := map[string]string{"dcc marketing": "DCC", "f.e.a.s.t.": "FEAST"}
	if got := NormalizeClientName("  DCC Marketing LLC ", aliases); got != "DCC" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeClientName("F.E.A.S.T. Outreach", aliases); got != "FEAST" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeClientName("  Acme Co ", aliases); got != "Acme Co" {
		t.Fatalf("got %q", got)
	}
}

func TestFetchClientTasksMatchesFoldersAndRecurringLists(t *testing.T) {
	src := &stubSource{
		responses: map[string]string{
			"/space/space-ops/folder": `{"folders": [
				{"name": "Acme - Website", "lists": [{"id": "l1", "name": "Build"}]},
				{"name": "Internal Projects", "lists": [{"id": "l2", "name": "Ops"}]},
				{"name": "Unknown Co", "lists": [{"id": "l3", "name": "Misc"}]}
			]}`,
			"/folder/folder-rec": `{"lists": [
				{"id": "l4", "name": "DCC Retainer"},
				{"id": "l5", "name": "Somebody Else"}
			]}`,
		},
		tasks: map[string]string{
			"l1": `{"tasks": [{"id": "t1", "name": "Launch", "status": {"status": "in progress", "type": "custom"}}]}`,
			"l2": `{"tasks": [{"id": "t2", "name": "Hidden"}]}`,
			"l4": `{"tasks": [{"id": "t3", "name": "Monthly SEO", "status": {"status": "complete", "type": "closed"}}]}`,
		},
	}

	byClient := FetchClientTasks(context.Background(), src, fetchConfig(), []string{"Acme", "DCC"})
	if len(byClient) != 2 {
		t.Fatalf("clients matched = %d: %v", len(byClient), byClient)
	}
	if len(byClient["Acme"]) != 1 || byClient["Acme"][0].ID != "t1" {
		t.Fatalf("Acme tasks = %+v", byClient["Acme"])
	}
	if len(byClient["DCC"]) != 1 || !byClient["DCC"][0].IsComplete {
		t.Fatalf("DCC tasks = %+v", byClient["DCC"])
	}
	if byClient["DCC"][0].Folder != "Recurring Clients" {
		t.Fatalf("DCC folder = %q", byClient["DCC"][0].Folder)
	}
}

func TestFetchClientTasksEmptyRoster(t *testing.T) {
	src := &stubSource{responses: map[string]string{"/space/space-ops/folder": `{"folders": []}`}}
	byClient := FetchClientTasks(context.Background(), src, fetchConfig(), nil)
	if len(byClient) != 0 {
		t.Fatalf("byClient = %v, want empty", byClient)
	}
}
