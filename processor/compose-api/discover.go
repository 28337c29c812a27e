package composeapi

import (
	"encoding/json"
	"net/http"

	"github.com/c360studio/repoforge/catalog"
)

// discoveryOperation describes one POST /discover operation for the GET
// listing.
type discoveryOperation struct {
	Operation   string   `json:"operation"`
	Description string   `json:"description"`
	Params      []string `json:"params,omitempty"`
}

// discoveryOperations is the fixed operation surface.
var discoveryOperations = []discoveryOperation{
	{Operation: "list_categories", Description: "Enumerate template categories with counts"},
	{Operation: "list_templates", Description: "List templates in one category", Params: []string{"category"}},
	{Operation: "get_template", Description: "Fetch one template descriptor", Params: []string{"template_id"}},
	{Operation: "compose_system", Description: "How to submit a manifest for composition", Params: []string{"system_name"}},
	{Operation: "get_pipeline_stage", Description: "Describe one pipeline stage", Params: []string{"stage"}},
	{Operation: "get_capabilities", Description: "List agent capabilities"},
	{Operation: "get_blueprint", Description: "Fetch a sample manifest by name", Params: []string{"blueprint_name"}},
}

// discoverRequest is the request body for POST /discover.
type discoverRequest struct {
	Operation string            `json:"operation"`
	Params    map[string]string `json:"params,omitempty"`
}

// handleDiscover serves both the GET listing and POST operation calls.
func (c *Component) handleDiscover(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"service":         ServiceName,
			"version":         Version,
			"catalog_version": c.currentCatalog().Snapshot(),
			"operations":      discoveryOperations,
		})
	case http.MethodPost:
		c.handleDiscoverOp(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *Component) handleDiscoverOp(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json",
			"request body is not valid JSON", nil, `send {"operation": "...", "params": {...}}`)
		return
	}

	cat := c.currentCatalog()

	switch req.Operation {
	case "list_categories":
		writeJSON(w, http.StatusOK, map[string]any{
			"categories":      cat.CategoryCounts(),
			"catalog_version": cat.Snapshot(),
		})

	case "list_templates":
		raw, ok := req.Params["category"]
		if !ok {
			writeError(w, http.StatusBadRequest, "missing_param",
				"list_templates requires a category param", nil, "pass params.category")
			return
		}
		category, err := catalog.ParseCategory(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown_category",
				err.Error(), nil, "use one of the enumerated categories")
			return
		}
		templates := cat.Templates(category)
		if templates == nil {
			templates = []*catalog.Descriptor{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"category":  category,
			"templates": templates,
		})

	case "get_template":
		raw, ok := req.Params["template_id"]
		if !ok {
			writeError(w, http.StatusBadRequest, "missing_param",
				"get_template requires a template_id param", nil, `pass params.template_id as "category:slug"`)
			return
		}
		ref, err := catalog.ParseRef(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_template_id",
				err.Error(), nil, `template_id has the form "category:slug"`)
			return
		}
		d, found := cat.ResolveRef(ref)
		if !found {
			writeError(w, http.StatusNotFound, "not_found",
				"template "+raw+" is not in the catalog", nil, "use list_templates to enumerate slugs")
			return
		}
		writeJSON(w, http.StatusOK, d)

	case "compose_system":
		name, ok := req.Params["system_name"]
		if !ok {
			writeError(w, http.StatusBadRequest, "missing_param",
				"compose_system requires a system_name param", nil, "pass params.system_name")
			return
		}
		// Composition happens through /compose with a full manifest; this
		// operation only points the way.
		writeJSON(w, http.StatusOK, map[string]any{
			"system_name": name,
			"endpoint":    "/compose",
			"method":      "POST",
			"hint":        "POST the full manifest JSON to /compose",
		})

	case "get_pipeline_stage":
		name, ok := req.Params["stage"]
		if !ok {
			writeError(w, http.StatusBadRequest, "missing_param",
				"get_pipeline_stage requires a stage param", nil, "pass params.stage")
			return
		}
		stage, found := c.reg.Stage(name)
		if !found {
			writeError(w, http.StatusNotFound, "not_found",
				"unknown pipeline stage "+name, nil, "stages: "+joinStages(c.reg.StageNames()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"stage":  name,
			"detail": stage,
		})

	case "get_capabilities":
		writeJSON(w, http.StatusOK, map[string]any{
			"version":      c.reg.Version,
			"capabilities": c.reg.Capabilities,
		})

	case "get_blueprint":
		name, ok := req.Params["blueprint_name"]
		if !ok {
			writeError(w, http.StatusBadRequest, "missing_param",
				"get_blueprint requires a blueprint_name param", nil, "pass params.blueprint_name")
			return
		}
		bp, found := c.reg.Blueprint(name)
		if !found {
			writeError(w, http.StatusNotFound, "not_found",
				"unknown blueprint "+name, nil, "use get_capabilities to explore the registry")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"blueprint":   name,
			"description": bp.Description,
			"manifest":    json.RawMessage(bp.Manifest),
		})

	default:
		writeError(w, http.StatusBadRequest, "unknown_operation",
			"unknown discovery operation "+req.Operation, nil, "GET /discover lists the operations")
	}
}

func joinStages(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
