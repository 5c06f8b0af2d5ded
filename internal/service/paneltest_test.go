package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/client"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/logger"
)

// fakePanel is an in-memory Pterodactyl application API used by the
// service tests.
type fakePanel struct {
	t   *testing.T
	URL string

	mu            sync.Mutex
	nodes         []client.Node
	nodeFailures  map[int]bool
	allocations   map[int][]client.Allocation
	users         []client.User
	eggs          map[int]fakeEgg
	servers       map[int64]client.Server
	created       []client.CreateServerRequest
	suspendCalls  []int64
	deleteCalls   []int64
	deleteStatus  int
	createStatus  int
	nextID        int
	nextServerID  int64
	createdUsers  []client.CreateUserRequest
	createdAllocs [][]string
	buildCalls    []client.UpdateBuildRequest
	startupVars   map[int64][]client.ServerVariable
	startupCalls  []client.UpdateStartupRequest
	ssoRedirect   string
}

type fakeEgg struct {
	NestID      int
	Name        string
	DockerImage string
	Startup     string
	Variables   []client.EggVariable
}

func newFakePanel(t *testing.T) *fakePanel {
	p := &fakePanel{
		t:            t,
		nodeFailures: map[int]bool{},
		allocations:  map[int][]client.Allocation{},
		eggs:         map[int]fakeEgg{},
		servers:      map[int64]client.Server{},
		startupVars:  map[int64][]client.ServerVariable{},
		nextID:       100,
		nextServerID: 1000,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/application/nodes", p.listNodes)
	mux.HandleFunc("GET /api/application/nodes/{id}", p.getNode)
	mux.HandleFunc("GET /api/application/nodes/{id}/allocations", p.listAllocations)
	mux.HandleFunc("POST /api/application/nodes/{id}/allocations", p.createAllocations)
	mux.HandleFunc("GET /api/application/nests", p.listNests)
	mux.HandleFunc("GET /api/application/nests/{nest}/eggs/{egg}", p.getEgg)
	mux.HandleFunc("GET /api/application/users", p.listUsers)
	mux.HandleFunc("POST /api/application/users", p.createUser)
	mux.HandleFunc("POST /api/application/servers", p.createServer)
	mux.HandleFunc("GET /api/application/servers/{id}", p.getServer)
	mux.HandleFunc("POST /api/application/servers/{id}/suspend", p.suspendServer)
	mux.HandleFunc("POST /api/application/servers/{id}/unsuspend", p.unsuspendServer)
	mux.HandleFunc("DELETE /api/application/servers/{id}", p.deleteServer)
	mux.HandleFunc("POST /api/application/servers/{id}/build", p.updateBuild)
	mux.HandleFunc("GET /api/application/servers/{id}/startup", p.getStartup)
	mux.HandleFunc("PUT /api/application/servers/{id}/startup", p.updateStartup)
	mux.HandleFunc("GET /sso-wemx/", p.ssoHandler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	p.URL = srv.URL
	return p
}

func (p *fakePanel) client() *client.PanelClient {
	return client.New(p.URL, "test-key", logger.Nop())
}

func writeItem(w http.ResponseWriter, attributes interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{"attributes": attributes})
}

func writeList(w http.ResponseWriter, attributes ...interface{}) {
	items := make([]map[string]interface{}, 0, len(attributes))
	for _, a := range attributes {
		items = append(items, map[string]interface{}{"attributes": a})
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"data": items})
}

func writePanelError(w http.ResponseWriter, status int, detail string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"errors": []map[string]string{{"code": "HttpException", "detail": detail}},
	})
}

func pathInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.PathValue(key))
	return n
}

func (p *fakePanel) listNodes(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	attrs := make([]interface{}, 0, len(p.nodes))
	for _, n := range p.nodes {
		attrs = append(attrs, n)
	}
	writeList(w, attrs...)
}

func (p *fakePanel) getNode(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := pathInt(r, "id")
	if p.nodeFailures[id] {
		writePanelError(w, http.StatusInternalServerError, "node unreachable")
		return
	}
	for _, n := range p.nodes {
		if n.ID == id {
			writeItem(w, n)
			return
		}
	}
	writePanelError(w, http.StatusNotFound, "node not found")
}

func (p *fakePanel) listAllocations(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	attrs := make([]interface{}, 0)
	for _, a := range p.allocations[pathInt(r, "id")] {
		attrs = append(attrs, a)
	}
	writeList(w, attrs...)
}

func (p *fakePanel) createAllocations(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	nodeID := pathInt(r, "id")
	var payload struct {
		IP    string   `json:"ip"`
		Ports []string `json:"ports"`
	}
	json.NewDecoder(r.Body).Decode(&payload)
	p.createdAllocs = append(p.createdAllocs, append([]string{payload.IP}, payload.Ports...))
	for _, ps := range payload.Ports {
		port, _ := strconv.Atoi(ps)
		p.nextID++
		p.allocations[nodeID] = append(p.allocations[nodeID], client.Allocation{
			ID:   p.nextID,
			IP:   payload.IP,
			Port: port,
		})
	}
	// Real panels answer allocation creation with 204.
	w.WriteHeader(http.StatusNoContent)
}

func (p *fakePanel) listNests(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byNest := map[int][]map[string]interface{}{}
	for id, egg := range p.eggs {
		byNest[egg.NestID] = append(byNest[egg.NestID], map[string]interface{}{
			"attributes": map[string]interface{}{"id": id, "name": egg.Name},
		})
	}
	attrs := make([]interface{}, 0, len(byNest))
	for nestID, eggs := range byNest {
		attrs = append(attrs, map[string]interface{}{
			"id":   nestID,
			"name": fmt.Sprintf("nest-%d", nestID),
			"relationships": map[string]interface{}{
				"eggs": map[string]interface{}{"data": eggs},
			},
		})
	}
	writeList(w, attrs...)
}

func (p *fakePanel) getEgg(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	eggID := pathInt(r, "egg")
	egg, ok := p.eggs[eggID]
	if !ok || egg.NestID != pathInt(r, "nest") {
		writePanelError(w, http.StatusNotFound, "egg not found")
		return
	}
	vars := make([]map[string]interface{}, 0, len(egg.Variables))
	for _, v := range egg.Variables {
		vars = append(vars, map[string]interface{}{"attributes": v})
	}
	writeItem(w, map[string]interface{}{
		"id":           eggID,
		"name":         egg.Name,
		"docker_image": egg.DockerImage,
		"startup":      egg.Startup,
		"relationships": map[string]interface{}{
			"variables": map[string]interface{}{"data": vars},
		},
	})
}

func (p *fakePanel) listUsers(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	filter := r.URL.Query().Get("filter[email]")
	attrs := make([]interface{}, 0)
	for _, u := range p.users {
		if filter == "" || u.Email == filter {
			attrs = append(attrs, u)
		}
	}
	writeList(w, attrs...)
}

func (p *fakePanel) createUser(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var req client.CreateUserRequest
	json.NewDecoder(r.Body).Decode(&req)
	p.createdUsers = append(p.createdUsers, req)
	p.nextID++
	user := client.User{
		ID:        p.nextID,
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	p.users = append(p.users, user)
	w.WriteHeader(http.StatusCreated)
	writeItem(w, user)
}

func (p *fakePanel) createServer(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createStatus != 0 {
		writePanelError(w, p.createStatus, "server creation rejected")
		return
	}
	var req client.CreateServerRequest
	json.NewDecoder(r.Body).Decode(&req)
	p.created = append(p.created, req)
	p.nextServerID++
	server := client.Server{
		ID:         p.nextServerID,
		Identifier: fmt.Sprintf("srv%06d", p.nextServerID),
		Name:       req.Name,
		User:       req.User,
		Egg:        req.Egg,
		Allocation: req.Allocation.Default,
	}
	p.servers[server.ID] = server
	w.WriteHeader(http.StatusCreated)
	writeItem(w, server)
}

func (p *fakePanel) getServer(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	server, ok := p.servers[id]
	if !ok {
		writePanelError(w, http.StatusNotFound, "server not found")
		return
	}
	writeItem(w, server)
}

func (p *fakePanel) suspendServer(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	p.suspendCalls = append(p.suspendCalls, id)
	if server, ok := p.servers[id]; ok {
		server.Suspended = true
		p.servers[id] = server
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *fakePanel) unsuspendServer(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if server, ok := p.servers[id]; ok {
		server.Suspended = false
		p.servers[id] = server
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *fakePanel) deleteServer(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	p.deleteCalls = append(p.deleteCalls, id)
	if p.deleteStatus != 0 {
		writePanelError(w, p.deleteStatus, "delete rejected")
		return
	}
	delete(p.servers, id)
	w.WriteHeader(http.StatusNoContent)
}

func (p *fakePanel) updateBuild(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var req client.UpdateBuildRequest
	json.NewDecoder(r.Body).Decode(&req)
	p.buildCalls = append(p.buildCalls, req)
	w.WriteHeader(http.StatusNoContent)
}

func (p *fakePanel) getStartup(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	attrs := make([]interface{}, 0)
	for _, v := range p.startupVars[id] {
		attrs = append(attrs, v)
	}
	writeList(w, attrs...)
}

func (p *fakePanel) updateStartup(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var req client.UpdateStartupRequest
	json.NewDecoder(r.Body).Decode(&req)
	p.startupCalls = append(p.startupCalls, req)
	w.WriteHeader(http.StatusNoContent)
}

func (p *fakePanel) ssoHandler(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ssoRedirect == "" {
		json.NewEncoder(w).Encode(map[string]string{"message": "sso disabled"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{
		"redirect": p.ssoRedirect + "?user=" + r.URL.Query().Get("user_id"),
	})
}
