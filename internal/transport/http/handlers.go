// Package httptransport is the thin HTTP layer. Handlers decode, resolve
// the tenant context, delegate to domain services, and encode; business
// logic stays out of this package.
package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"aegis/internal/audit"
	"aegis/internal/audit/query"
	"aegis/internal/catalog"
	"aegis/internal/guard"
	"aegis/internal/rbac"
	"aegis/internal/rbac/models"
	"aegis/internal/tenantctx"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

// Handler wires authorization and audit endpoints to their services.
type Handler struct {
	tenants *tenantctx.Resolver
	guard   *guard.Guard
	queries *query.Service
	roles   rbac.Store
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// New constructs the handler with its dependencies.
func New(tenants *tenantctx.Resolver, g *guard.Guard, queries *query.Service, roles rbac.Store, cat *catalog.Catalog, logger *slog.Logger) *Handler {
	return &Handler{
		tenants: tenants,
		guard:   g,
		queries: queries,
		roles:   roles,
		catalog: cat,
		logger:  logger,
	}
}

// resolveContext pulls the authenticated principal from the context and
// resolves its claim to the given tenant.
func (h *Handler) resolveContext(w http.ResponseWriter, r *http.Request, tenantType, tenantID string) (*id.TenantContext, bool) {
	ctx := r.Context()

	principal := requestcontext.PrincipalID(ctx)
	if principal.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return nil, false
	}

	scope, err := id.ParseTenantScope(tenantType, tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}

	tc, err := h.tenants.Resolve(ctx, principal, scope)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	return tc, true
}

// HandleResolveContext handles POST /authz/context.
func (h *Handler) HandleResolveContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndPrepare[ResolveContextRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	tc, ok := h.resolveContext(w, r, req.TenantType, req.TenantID)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toContextResponse(tc))
}

// HandleCheck handles POST /authz/check.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndPrepare[CheckRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	tc, ok := h.resolveContext(w, r, req.TenantType, req.TenantID)
	if !ok {
		return
	}

	result, err := h.guard.Check(ctx, tc, guard.CheckRequest{
		Action:      id.Action(req.Action),
		Resource:    id.ResourceType(req.Resource),
		ResourceID:  req.ResourceID,
		BeforeState: req.BeforeState,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := CheckResponse{
		Outcome:     string(result.Decision.Outcome),
		Reason:      string(result.Decision.Reason),
		EvaluatedAt: result.Decision.EvaluatedAt,
	}
	// Denied entries are terminal at record time; only allowed mutations
	// hand the caller a handle to finalize.
	if result.Handle != nil && result.Decision.Allowed() {
		resp.EntryID = result.Handle.Entry.String()
		resp.Seq = result.Handle.Seq
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleFinalize handles POST /authz/finalize.
func (h *Handler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndPrepare[FinalizeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	tc, ok := h.resolveContext(w, r, req.TenantType, req.TenantID)
	if !ok {
		return
	}

	entryID, err := id.ParseEntryID(req.EntryID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	handle := &audit.Handle{Entry: entryID, Scope: tc.Scope, Seq: req.Seq}
	if err := h.guard.Finalize(ctx, handle, req.Succeeded, req.AfterState); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAuditEntries handles GET /audit/entries.
func (h *Handler) HandleAuditEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()

	tc, ok := h.resolveContext(w, r, params.Get("tenant_type"), params.Get("tenant_id"))
	if !ok {
		return
	}

	req := query.Request{
		Resource:    id.ResourceType(params.Get("resource")),
		ResourceID:  params.Get("resource_id"),
		Action:      id.Action(params.Get("action")),
		Outcome:     id.Outcome(params.Get("outcome")),
		Completion:  audit.Completion(params.Get("completion")),
		ResumeToken: params.Get("resume_token"),
	}
	if actor := params.Get("actor"); actor != "" {
		parsed, err := id.ParsePrincipalID(actor)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		req.Actor = parsed
	}
	from, ok := parseTimeParam(w, params.Get("from"))
	if !ok {
		return
	}
	req.From = from

	to, ok := parseTimeParam(w, params.Get("to"))
	if !ok {
		return
	}
	req.To = to
	if raw := params.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "page_size must be a non-negative integer"))
			return
		}
		req.PageSize = size
	}

	page, err := h.queries.Query(ctx, tc, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := EntriesResponse{
		Entries:   make([]EntryResponse, len(page.Entries)),
		NextToken: page.NextToken,
	}
	for i, entry := range page.Entries {
		resp.Entries[i] = toEntryResponse(entry)
	}
	for _, finding := range page.StaleFindings {
		resp.StaleFindings = append(resp.StaleFindings, finding.String())
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleVerifyChain handles GET /audit/chain.
func (h *Handler) HandleVerifyChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()

	tc, ok := h.resolveContext(w, r, params.Get("tenant_type"), params.Get("tenant_id"))
	if !ok {
		return
	}

	brk, err := h.queries.VerifyChain(ctx, tc)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := VerifyChainResponse{Intact: brk == nil}
	if brk != nil {
		resp.BrokenAt = brk.Seq
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleUpsertRole handles POST /admin/roles. Role administration arrives
// from the trusted administrative plane; the token is verified upstream.
func (h *Handler) HandleUpsertRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndPrepare[UpsertRoleRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	scope, err := h.parseRoleScope(req.TenantType, req.TenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	perms, err := h.parsePermissions(req.Permissions)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	denies, err := h.parsePermissions(req.DenyPermissions)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	roleID := id.RoleID(uuid.New())
	if req.ID != "" {
		if roleID, err = id.ParseRoleID(req.ID); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	role := &models.Role{
		ID:              roleID,
		Name:            req.Name,
		Scope:           scope,
		Permissions:     perms,
		DenyPermissions: denies,
	}
	if err := role.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	stored, err := h.roles.UpsertRole(ctx, role)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "role upsert failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRoleResponse(stored))
}

// HandleBindRole handles POST /admin/role-bindings.
func (h *Handler) HandleBindRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndPrepare[BindRoleRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	binding, err := h.parseBinding(req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	binding.BoundAt = requestcontext.Now(ctx)

	if err := h.roles.BindRole(ctx, binding); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "role binding failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUnbindRole handles DELETE /admin/role-bindings.
func (h *Handler) HandleUnbindRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndPrepare[BindRoleRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	binding, err := h.parseBinding(req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.roles.UnbindRole(ctx, binding.Principal, binding.RoleID, binding.Scope); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "role unbind failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseRoleScope(tenantType, tenantID string) (id.TenantScope, error) {
	if tenantType == "" && tenantID == "" {
		return id.GlobalScope, nil
	}
	return id.ParseTenantScope(tenantType, tenantID)
}

// parsePermissions enforces the closed world: a permission string that no
// code path registered cannot be granted.
func (h *Handler) parsePermissions(raw []string) (models.PermissionSet, error) {
	set := models.NewPermissionSet()
	for _, p := range raw {
		permID := catalog.PermissionID(p)
		if !h.catalog.Defined(permID) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown permission "+p)
		}
		set[permID] = struct{}{}
	}
	return set, nil
}

func (h *Handler) parseBinding(req BindRoleRequest) (models.RoleBinding, error) {
	principal, err := id.ParsePrincipalID(req.PrincipalID)
	if err != nil {
		return models.RoleBinding{}, err
	}
	roleID, err := id.ParseRoleID(req.RoleID)
	if err != nil {
		return models.RoleBinding{}, err
	}
	scope, err := h.parseRoleScope(req.TenantType, req.TenantID)
	if err != nil {
		return models.RoleBinding{}, err
	}
	return models.RoleBinding{Principal: principal, RoleID: roleID, Scope: scope}, nil
}

func toRoleResponse(role *models.Role) RoleResponse {
	perms := make([]string, 0, len(role.Permissions))
	for _, p := range role.Permissions.Members() {
		perms = append(perms, string(p))
	}
	var denies []string
	for _, p := range role.DenyPermissions.Members() {
		denies = append(denies, string(p))
	}
	return RoleResponse{
		ID:              role.ID.String(),
		Name:            role.Name,
		TenantType:      string(role.Scope.Type),
		TenantID:        role.Scope.ID,
		Permissions:     perms,
		DenyPermissions: denies,
		Version:         role.Version,
	}
}

func parseTimeParam(w http.ResponseWriter, raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "timestamps must be RFC 3339"))
		return time.Time{}, false
	}
	return t, true
}
