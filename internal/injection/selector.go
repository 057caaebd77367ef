package injection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// candidate pairs a warning with the ordering fields that never leave the
// selector.
type candidate struct {
	Warning
	createdAt time.Time
}

// SelectWarnings gathers principles, patterns, cross-project security
// patterns, and provisional alerts matching the request, ranks them by
// injection priority, truncates to the warning cap, renders the block, and
// appends the audit row.
func (s *service) SelectWarnings(ctx context.Context, req SelectRequest) (*Selection, error) {
	ctx, span := s.tracer.Start(ctx, "injection.select_warnings")
	defer span.End()

	span.SetAttributes(
		attribute.String("workspace_id", req.Scope.WorkspaceID),
		attribute.String("project_id", req.Scope.ProjectID),
		attribute.String("target", string(req.Target)),
		attribute.String("issue_id", req.IssueID),
	)

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	if !req.Target.IsValid() || req.Target == pattern.InjectBoth {
		return nil, fmt.Errorf("invalid injection target %q", req.Target)
	}
	if req.MaxWarnings < 0 {
		return nil, fmt.Errorf("max_warnings must be >= 0, got %d", req.MaxWarnings)
	}
	maxWarnings := req.MaxWarnings
	if maxWarnings == 0 {
		maxWarnings = s.policy.MaxWarnings
	}

	candidates, err := s.gather(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		if candidates[i].Severity.Rank() != candidates[j].Severity.Rank() {
			return candidates[i].Severity.Rank() > candidates[j].Severity.Rank()
		}
		return candidates[i].createdAt.After(candidates[j].createdAt)
	})
	if len(candidates) > maxWarnings {
		candidates = candidates[:maxWarnings]
	}

	selection := &Selection{}
	log := Log{
		ID:          uuid.New().String(),
		Scope:       req.Scope,
		IssueID:     req.IssueID,
		Target:      req.Target,
		TaskProfile: req.TaskProfile,
		CreatedAt:   time.Now().UTC(),
	}
	for _, c := range candidates {
		switch c.Kind {
		case SourceAlert:
			selection.Alerts = append(selection.Alerts, c.Warning)
			log.AlertIDs = append(log.AlertIDs, c.SourceID)
		case SourcePrinciple:
			selection.Warnings = append(selection.Warnings, c.Warning)
			log.PrincipleIDs = append(log.PrincipleIDs, c.SourceID)
		default:
			selection.Warnings = append(selection.Warnings, c.Warning)
			log.PatternIDs = append(log.PatternIDs, c.SourceID)
		}
	}

	selection.Markdown = renderMarkdown(selection.Warnings, selection.Alerts)
	selection.Summary = renderSummary(selection.Warnings, selection.Alerts)
	log.Summary = selection.Summary
	selection.Log = log

	if err := s.store.AppendInjectionLog(ctx, log); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to append injection log: %w", err)
	}

	if s.selectionCounter != nil {
		s.selectionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("target", string(req.Target)),
		))
	}
	if s.surfacedCounter != nil {
		for kind, n := range map[SourceKind]int{
			SourcePattern:   len(log.PatternIDs),
			SourcePrinciple: len(log.PrincipleIDs),
			SourceAlert:     len(log.AlertIDs),
		} {
			if n > 0 {
				s.surfacedCounter.Add(ctx, int64(n), metric.WithAttributes(
					attribute.String("kind", string(kind)),
				))
			}
		}
	}

	span.SetAttributes(
		attribute.Int("warnings", len(selection.Warnings)),
		attribute.Int("alerts", len(selection.Alerts)),
		attribute.String("log_id", log.ID),
	)
	s.logger.Info("warnings selected",
		zap.String("workspace_id", req.Scope.WorkspaceID),
		zap.String("project_id", req.Scope.ProjectID),
		zap.String("issue_id", req.IssueID),
		zap.String("target", string(req.Target)),
		zap.Int("warnings", len(selection.Warnings)),
		zap.Int("alerts", len(selection.Alerts)),
	)
	return selection, nil
}

// gather collects the unranked candidate list for the request.
func (s *service) gather(ctx context.Context, req SelectRequest) ([]candidate, error) {
	var candidates []candidate

	principles, err := s.store.ListActivePrinciples(ctx, req.Scope.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list principles: %w", err)
	}
	for _, p := range principles {
		if !p.InjectInto.Matches(req.Target) {
			continue
		}
		// Untagged principles apply everywhere; tagged ones need overlap.
		if len(p.Touches) > 0 && !p.Touches.Overlaps(req.TaskProfile.Touches) {
			continue
		}
		candidates = append(candidates, candidate{
			Warning: Warning{
				SourceID:  p.ID,
				Kind:      SourcePrinciple,
				Text:      p.Text,
				Rationale: p.Rationale,
				Category:  p.Category,
				Severity:  p.Severity,
				Priority:  s.priorityOf(p.Severity, p.Touches, req.TaskProfile, false),
			},
			createdAt: p.CreatedAt,
		})
	}

	scoped, err := s.store.ListActivePatterns(ctx, req.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	localKeys := make(map[string]bool, len(scoped))
	for _, def := range scoped {
		localKeys[def.PatternKey] = true
	}
	for _, def := range scoped {
		if !def.Touches.Overlaps(req.TaskProfile.Touches) {
			continue
		}
		candidates = append(candidates, candidate{
			Warning:   patternWarning(def, s.priorityOf(def.SeverityMax, def.Touches, req.TaskProfile, false), false),
			createdAt: def.CreatedAt,
		})
	}

	if s.policy.CrossProject {
		imported, err := s.store.ListCrossProjectSecurityPatterns(ctx, req.Scope)
		if err != nil {
			return nil, fmt.Errorf("failed to list cross-project patterns: %w", err)
		}
		seen := make(map[string]bool, len(imported))
		for _, def := range imported {
			// Guidance already tracked in this project wins over imports,
			// and each key imports at most once.
			if localKeys[def.PatternKey] || seen[def.PatternKey] {
				continue
			}
			if !def.Touches.Overlaps(req.TaskProfile.Touches) {
				continue
			}
			seen[def.PatternKey] = true
			candidates = append(candidates, candidate{
				Warning:   patternWarning(def, s.priorityOf(def.SeverityMax, def.Touches, req.TaskProfile, true), true),
				createdAt: def.CreatedAt,
			})
		}
	}

	alerts, err := s.store.ListActiveAlerts(ctx, req.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	for _, a := range alerts {
		candidates = append(candidates, candidate{
			Warning: Warning{
				SourceID:    a.ID,
				Kind:        SourceAlert,
				Text:        a.Content,
				Alternative: a.Alternative,
				Category:    a.Category,
				Severity:    a.Severity,
				Priority:    s.priorityOf(a.Severity, a.Touches, req.TaskProfile, false),
			},
			createdAt: a.CreatedAt,
		})
	}

	return candidates, nil
}

func patternWarning(def pattern.Definition, priority float64, crossProject bool) Warning {
	return Warning{
		SourceID:     def.ID,
		Kind:         SourcePattern,
		Text:         def.Content,
		Alternative:  def.Alternative,
		Category:     def.Category,
		Severity:     def.SeverityMax,
		Priority:     priority,
		CrossProject: crossProject,
	}
}

// priorityOf scores any candidate through the engine's pattern ranking;
// principles and alerts rank by the same severity and touch rules.
func (s *service) priorityOf(severity evidence.Severity, touches pattern.TouchSet, profile pattern.TaskProfile, crossProject bool) float64 {
	return s.engine.InjectionPriority(pattern.Definition{SeverityMax: severity, Touches: touches}, profile, crossProject)
}
