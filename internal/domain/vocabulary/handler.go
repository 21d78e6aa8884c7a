package vocabulary

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/omop/atlas/internal/platform/apperr"
)

// maxLookupIDs bounds a single identifier lookup request.
const maxLookupIDs = 10000

// Handler provides REST endpoints for vocabulary services.
type Handler struct {
	svc *Service
}

// NewHandler creates a new vocabulary handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers vocabulary routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/vocabulary")
	g.POST("/search", h.SearchConcepts)
	g.GET("/search", h.SearchConceptsGet)
	g.GET("/concept/:id", h.GetConcept)
	g.GET("/concept/:id/related", h.GetRelatedConcepts)
	g.POST("/lookup/identifiers", h.LookupIdentifiers)
	g.GET("/domains", h.ListDomains)
	g.GET("/vocabularies", h.ListVocabularies)
}

// searchRequest is the wire form of SearchCriteria. Its upper-case keys are
// kept for compatibility with existing ATLAS clients.
type searchRequest struct {
	Query           string   `json:"QUERY"`
	DomainID        []string `json:"DOMAIN_ID"`
	VocabularyID    []string `json:"VOCABULARY_ID"`
	ConceptClassID  []string `json:"CONCEPT_CLASS_ID"`
	StandardConcept string   `json:"STANDARD_CONCEPT"`
	InvalidReason   string   `json:"INVALID_REASON"`
	IsLexical       bool     `json:"IS_LEXICAL"`
}

func (r searchRequest) criteria() SearchCriteria {
	return SearchCriteria{
		Query:           r.Query,
		DomainIDs:       r.DomainID,
		VocabularyIDs:   r.VocabularyID,
		ConceptClassIDs: r.ConceptClassID,
		StandardConcept: r.StandardConcept,
		InvalidReason:   r.InvalidReason,
		Lexical:         r.IsLexical,
	}
}

// SearchConcepts handles POST /api/v1/vocabulary/search.
func (h *Handler) SearchConcepts(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid search criteria")
	}
	return h.search(c, req.criteria())
}

// SearchConceptsGet handles GET /api/v1/vocabulary/search?QUERY=...&DOMAIN_ID=...
func (h *Handler) SearchConceptsGet(c echo.Context) error {
	lexical := false
	if v := c.QueryParam("IS_LEXICAL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "IS_LEXICAL must be a boolean")
		}
		lexical = b
	}
	params := c.QueryParams()
	req := searchRequest{
		Query:           c.QueryParam("QUERY"),
		DomainID:        listParam(params["DOMAIN_ID"]),
		VocabularyID:    listParam(params["VOCABULARY_ID"]),
		ConceptClassID:  listParam(params["CONCEPT_CLASS_ID"]),
		StandardConcept: c.QueryParam("STANDARD_CONCEPT"),
		InvalidReason:   c.QueryParam("INVALID_REASON"),
		IsLexical:       lexical,
	}
	return h.search(c, req.criteria())
}

func (h *Handler) search(c echo.Context, criteria SearchCriteria) error {
	limit, err := intParam(c, "limit", DefaultSearchLimit)
	if err != nil {
		return err
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		return err
	}
	results, err := h.svc.SearchConcepts(c.Request().Context(), criteria, limit, offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, results)
}

// GetConcept handles GET /api/v1/vocabulary/concept/:id.
func (h *Handler) GetConcept(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	concept, err := h.svc.GetConcept(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, concept)
}

// GetRelatedConcepts handles GET /api/v1/vocabulary/concept/:id/related.
func (h *Handler) GetRelatedConcepts(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	related, err := h.svc.GetRelatedConcepts(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, related)
}

// LookupIdentifiers handles POST /api/v1/vocabulary/lookup/identifiers with a
// JSON array of concept ids.
func (h *Handler) LookupIdentifiers(c echo.Context) error {
	var ids []int64
	if err := json.NewDecoder(c.Request().Body).Decode(&ids); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be a JSON array of concept ids")
	}
	if len(ids) > maxLookupIDs {
		return echo.NewHTTPError(http.StatusBadRequest, "too many concept ids (max "+strconv.Itoa(maxLookupIDs)+")")
	}
	concepts, err := h.svc.LookupConcepts(c.Request().Context(), ids)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, concepts)
}

// ListDomains handles GET /api/v1/vocabulary/domains.
func (h *Handler) ListDomains(c echo.Context) error {
	domains, err := h.svc.ListDomains(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, domains)
}

// ListVocabularies handles GET /api/v1/vocabulary/vocabularies.
func (h *Handler) ListVocabularies(c echo.Context) error {
	vocabularies, err := h.svc.ListVocabularies(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, vocabularies)
}

func idParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid concept id")
	}
	return id, nil
}

func intParam(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be an integer")
	}
	return n, nil
}

// listParam accepts repeated parameters as well as comma separated values.
func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
