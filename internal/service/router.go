package service

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/stock-issuance-api/internal/models"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
)

// RoutingTrigger tells the resolver why an approver is needed.
type RoutingTrigger string

const (
	TriggerSubmitted RoutingTrigger = "SUBMITTED"
	TriggerReturned  RoutingTrigger = "RETURNED"
)

// RoutingContext is the input of an approver lookup.
type RoutingContext struct {
	Request            *models.Request
	Trigger            RoutingTrigger
	PreviousApproverID string
}

// ApproverResolver picks the approver of the next Approval for a request.
type ApproverResolver interface {
	ResolveApprover(ctx context.Context, rc RoutingContext) (string, error)
}

// HierarchySource exposes the organisational relations routing depends on.
type HierarchySource interface {
	GetSupervisor(ctx context.Context, employeeID string) (string, error)
	ListWingApprovers(ctx context.Context, wingID string) ([]models.WingApprover, error)
}

// ReturnAction is the policy applied when an approval comes back as returned.
type ReturnAction string

const (
	ReturnResubmit ReturnAction = "resubmit"
	ReturnEscalate ReturnAction = "escalate"
)

// RoutingPolicy maps each request type to its return action.
type RoutingPolicy struct {
	Individual     ReturnAction `yaml:"individual"`
	Organizational ReturnAction `yaml:"organizational"`
}

// DefaultRoutingPolicy escalates returned requests of both types.
func DefaultRoutingPolicy() RoutingPolicy {
	return RoutingPolicy{Individual: ReturnEscalate, Organizational: ReturnEscalate}
}

func (p RoutingPolicy) actionFor(t models.RequestType) ReturnAction {
	if t == models.RequestTypeOrganizational {
		return p.Organizational
	}
	return p.Individual
}

type routingPolicyFile struct {
	Returned RoutingPolicy `yaml:"returned"`
}

// LoadRoutingPolicy reads the return policy from a YAML file. An empty path
// yields the default policy; unset entries fall back to escalate.
func LoadRoutingPolicy(path string) (RoutingPolicy, error) {
	policy := DefaultRoutingPolicy()
	if path == "" {
		return policy, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read routing policy: %w", err)
	}
	return ParseRoutingPolicy(raw)
}

// ParseRoutingPolicy decodes a YAML routing policy document.
func ParseRoutingPolicy(raw []byte) (RoutingPolicy, error) {
	var file routingPolicyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return RoutingPolicy{}, fmt.Errorf("parse routing policy: %w", err)
	}
	policy := DefaultRoutingPolicy()
	for target, value := range map[*ReturnAction]ReturnAction{
		&policy.Individual:     file.Returned.Individual,
		&policy.Organizational: file.Returned.Organizational,
	} {
		action := ReturnAction(strings.ToLower(strings.TrimSpace(string(value))))
		switch action {
		case "":
		case ReturnResubmit, ReturnEscalate:
			*target = action
		default:
			return RoutingPolicy{}, fmt.Errorf("parse routing policy: unknown action %q", value)
		}
	}
	return policy, nil
}

// HierarchyRouter resolves approvers from the supervisor mapping and the
// per-wing approver list.
type HierarchyRouter struct {
	source HierarchySource
	policy RoutingPolicy
	logger *zap.Logger
}

// NewHierarchyRouter constructs the router.
func NewHierarchyRouter(source HierarchySource, policy RoutingPolicy, logger *zap.Logger) *HierarchyRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HierarchyRouter{source: source, policy: policy, logger: logger}
}

// ResolveApprover returns the approver for the next Approval. It never writes.
func (r *HierarchyRouter) ResolveApprover(ctx context.Context, rc RoutingContext) (string, error) {
	req := rc.Request
	if req == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "routing requires a request")
	}

	if rc.Trigger == TriggerReturned {
		if rc.PreviousApproverID == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, "returned routing requires the previous approver")
		}
		if r.policy.actionFor(req.Type) == ReturnResubmit {
			return rc.PreviousApproverID, nil
		}
	}

	var (
		approverID string
		err        error
	)
	switch req.Type {
	case models.RequestTypeIndividual:
		approverID, err = r.resolveIndividual(ctx, req, rc)
	case models.RequestTypeOrganizational:
		approverID, err = r.resolveOrganizational(ctx, req, rc)
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown request type %q", req.Type))
	}
	if err != nil {
		return "", err
	}
	r.logger.Debug("approver resolved",
		zap.String("request_id", req.ID),
		zap.String("trigger", string(rc.Trigger)),
		zap.String("approver_id", approverID),
	)
	return approverID, nil
}

func (r *HierarchyRouter) resolveIndividual(ctx context.Context, req *models.Request, rc RoutingContext) (string, error) {
	subject := req.RequesterID
	if rc.Trigger == TriggerReturned {
		subject = rc.PreviousApproverID
	}
	supervisor, err := r.source.GetSupervisor(ctx, subject)
	if err != nil {
		return "", storeFailure(err, "failed to resolve supervisor")
	}
	if supervisor == "" {
		if rc.Trigger == TriggerReturned {
			return "", appErrors.Clone(appErrors.ErrNoSupervisorFound, fmt.Sprintf("approver %s has no supervisor to escalate to", subject))
		}
		return "", appErrors.Clone(appErrors.ErrNoSupervisorFound, fmt.Sprintf("requester %s has no mapped supervisor", subject))
	}
	return supervisor, nil
}

func (r *HierarchyRouter) resolveOrganizational(ctx context.Context, req *models.Request, rc RoutingContext) (string, error) {
	if req.WingID == nil || *req.WingID == "" {
		return "", appErrors.Clone(appErrors.ErrNoApproverConfigured, "request has no wing")
	}
	wingID := *req.WingID
	approvers, err := r.source.ListWingApprovers(ctx, wingID)
	if err != nil {
		return "", storeFailure(err, "failed to list wing approvers")
	}
	if len(approvers) == 0 {
		return "", appErrors.Clone(appErrors.ErrNoApproverConfigured, fmt.Sprintf("wing %s has no configured approver", wingID))
	}
	if rc.Trigger != TriggerReturned {
		return approvers[0].ApproverID, nil
	}

	currentLevel := 0
	for _, a := range approvers {
		if a.ApproverID == rc.PreviousApproverID && a.Level > currentLevel {
			currentLevel = a.Level
		}
	}
	for _, a := range approvers {
		if a.Level > currentLevel && a.ApproverID != rc.PreviousApproverID {
			return a.ApproverID, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrNoApproverConfigured, fmt.Sprintf("wing %s has no approver above level %d", wingID, currentLevel))
}

// CachedHierarchy memoises hierarchy lookups in the cache service.
type CachedHierarchy struct {
	source HierarchySource
	cache  *CacheService
}

// NewCachedHierarchy wraps source with caching. A disabled cache passes every call through.
func NewCachedHierarchy(source HierarchySource, cache *CacheService) *CachedHierarchy {
	return &CachedHierarchy{source: source, cache: cache}
}

type cachedSupervisor struct {
	SupervisorID string `json:"supervisorId"`
}

func (h *CachedHierarchy) GetSupervisor(ctx context.Context, employeeID string) (string, error) {
	entry, err := remember(ctx, h.cache, "supervisor:"+employeeID, func() (cachedSupervisor, error) {
		id, err := h.source.GetSupervisor(ctx, employeeID)
		return cachedSupervisor{SupervisorID: id}, err
	})
	return entry.SupervisorID, err
}

func (h *CachedHierarchy) ListWingApprovers(ctx context.Context, wingID string) ([]models.WingApprover, error) {
	return remember(ctx, h.cache, "wing:"+wingID, func() ([]models.WingApprover, error) {
		return h.source.ListWingApprovers(ctx, wingID)
	})
}

// Invalidate drops cached lookups after the hierarchy changes.
func (h *CachedHierarchy) Invalidate(ctx context.Context) error {
	if err := h.cache.Flush(ctx); err != nil {
		return fmt.Errorf("invalidate routing cache: %w", err)
	}
	return nil
}
