package clickup

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	config "pulsedash/app/configs"
	"pulsedash/app/core/cache"
	"pulsedash/app/core/task"
	"pulsedash/app/pkg/logger"
)

const (
	defaultAPIRoot = "https://api.clickup.com/api/v2"
	taskPageSize   = 100
)

type Member struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Initials string `json:"initials"`
}

// Client is the typed adapter over the task-tracking API. Transport, HTTP and
// decode failures never escape it: they are logged and surface as an empty
// result, because the surrounding system prefers stale data over blocking.
type Client struct {
	apiRoot    string
	cfg        config.ClickUpConfig
	httpClient *http.Client
	shortCache *cache.Cache
}

func NewClient(cfg config.ClickUpConfig, shortCache *cache.Cache) *Client {
	return &Client{
		apiRoot:    defaultAPIRoot,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		shortCache: shortCache,
	}
}

// SetAPIRoot points the client at a different base URL. Tests only.
func (c *Client) SetAPIRoot(root string) {
	c.apiRoot = strings.TrimRight(root, "/")
}

// Request issues one authenticated GET. ok=false is the failure sentinel; the
// caller treats it as an empty page and moves on.
func (c *Client) Request(ctx context.Context, endpoint string) (gjson.Result, bool) {
	url := c.apiRoot + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		logger.Error("ClickUp request build failed for %s: %v", endpoint, err)
		return gjson.Result{}, false
	}
	req.Header.Set("Authorization", c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("ClickUp transport error for %s: %v", endpoint, err)
		return gjson.Result{}, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("ClickUp read error for %s: %v", endpoint, err)
		return gjson.Result{}, false
	}
	if resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		logger.Error("ClickUp HTTP %d for %s: %s", resp.StatusCode, endpoint, snippet)
		return gjson.Result{}, false
	}
	if !gjson.ValidBytes(body) {
		logger.Error("ClickUp invalid JSON for %s", endpoint)
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(body), true
}

// ListTaskPages fetches every page of tasks for a list. A failed page yields a
// partial set; the failure is counted, not propagated.
func (c *Client) ListTaskPages(ctx context.Context, listID string, includeSubtasks bool) ([]gjson.Result, int) {
	var (
		all         []gjson.Result
		failedPages int
	)
	for page := 0; ; page++ {
		endpoint := fmt.Sprintf("/list/%s/task?include_closed=true&subtasks=%t&page=%d", listID, includeSubtasks, page)
		data, ok := c.Request(ctx, endpoint)
		if !ok {
			failedPages++
			break
		}
		tasks := data.Get("tasks").Array()
		all = append(all, tasks...)
		if len(tasks) < taskPageSize {
			break
		}
	}
	return all, failedPages
}

// FetchAllTasks walks every space, folder and list of the workspace and
// returns the canonical normalized task set. Results are held in the short
// TTL cache to absorb request bursts.
func (c *Client) FetchAllTasks(ctx context.Context) []task.Task {
	if cached, ok := c.shortCache.Get("all_tasks"); ok {
		tasks := cached.([]task.Task)
		logger.Info("Returning %d cached tasks", len(tasks))
		return tasks
	}

	logger.Info("Fetching all tasks from ClickUp (no cache)")
	var (
		raw         []listedTask
		failedPages int
	)

	spacesData, _ := c.Request(ctx, fmt.Sprintf("/team/%s/space", c.cfg.TeamID))
	spaces := spacesData.Get("spaces").Array()

	for _, space := range spaces {
		spaceID := space.Get("id").String()

		foldersData, _ := c.Request(ctx, fmt.Sprintf("/space/%s/folder", spaceID))
		for _, folder := range foldersData.Get("folders").Array() {
			folderName := folder.Get("name").String()
			if c.isExcludedFolder(folderName) {
				continue
			}
			for _, lst := range folder.Get("lists").Array() {
				tasks, failed := c.ListTaskPages(ctx, lst.Get("id").String(), true)
				failedPages += failed
				for _, t := range tasks {
					raw = append(raw, listedTask{raw: t, folder: folderName, list: lst.Get("name").String()})
				}
			}
		}

		folderlessData, _ := c.Request(ctx, fmt.Sprintf("/space/%s/list", spaceID))
		for _, lst := range folderlessData.Get("lists").Array() {
			tasks, failed := c.ListTaskPages(ctx, lst.Get("id").String(), true)
			failedPages += failed
			for _, t := range tasks {
				raw = append(raw, listedTask{raw: t, folder: "(No Folder)", list: lst.Get("name").String()})
			}
		}
	}

	tasks := c.normalize(raw)
	if failedPages > 0 {
		logger.Error("ClickUp fetch completed with %d failed pages; result is partial", failedPages)
	}
	logger.Info("Normalized %d tasks from %d raw records across %d spaces", len(tasks), len(raw), len(spaces))

	c.shortCache.Set("all_tasks", tasks)
	return tasks
}

// TeamMembers returns all workspace members, cached for five minutes.
func (c *Client) TeamMembers(ctx context.Context) []Member {
	if cached, ok := c.shortCache.Get("team_members"); ok {
		return cached.([]Member)
	}

	data, ok := c.Request(ctx, fmt.Sprintf("/team/%s", c.cfg.TeamID))
	if !ok {
		return nil
	}

	var members []Member
	for _, m := range data.Get("team.members").Array() {
		user := m.Get("user")
		id := user.Get("id").Int()
		if id == 0 {
			continue
		}
		username := user.Get("username").String()
		if username == "" {
			username = user.Get("email").String()
		}
		members = append(members, Member{
			ID:       id,
			Username: username,
			Email:    user.Get("email").String(),
			Initials: user.Get("initials").String(),
		})
	}

	c.shortCache.SetTTL("team_members", members, 5*time.Minute)
	return members
}

// CompanyMembers filters the workspace roster down to internal employees by
// the configured email domain.
func (c *Client) CompanyMembers(ctx context.Context) []Member {
	var internal []Member
	for _, m := range c.TeamMembers(ctx) {
		if strings.HasSuffix(strings.ToLower(m.Email), strings.ToLower(c.cfg.CompanyEmailDomain)) {
			internal = append(internal, m)
		}
	}
	return internal
}

func (c *Client) isExcludedFolder(name string) bool {
	for _, excluded := range c.cfg.ExcludedFolders {
		if name == excluded {
			return true
		}
	}
	return false
}

type listedTask struct {
	raw    gjson.Result
	folder string
	list   string
}

func (c *Client) normalize(raw []listedTask) []task.Task {
	rawTasks := make([]gjson.Result, 0, len(raw))
	for _, r := range raw {
		rawTasks = append(rawTasks, r.raw)
	}
	parents := CollectParentIDs(rawTasks)

	tasks := make([]task.Task, 0, len(raw))
	for _, r := range raw {
		t, ok := ParseTask(r.raw, r.folder, r.list, parents, c.cfg.ScoreFieldID)
		if !ok {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks
}
