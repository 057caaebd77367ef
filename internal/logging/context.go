package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// ContextFields extracts the correlation fields stored in ctx: the active
// trace, the workspace/project scope, and issue/finding identifiers.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if scope, ok := ScopeFromContext(ctx); ok {
		fields = append(fields,
			zap.String("workspace_id", scope.WorkspaceID),
			zap.String("project_id", scope.ProjectID),
		)
	}
	if issueID := IssueIDFromContext(ctx); issueID != "" {
		fields = append(fields, zap.String("issue.id", issueID))
	}
	if findingID := FindingIDFromContext(ctx); findingID != "" {
		fields = append(fields, zap.String("finding.id", findingID))
	}

	return fields
}

type scopeCtxKey struct{}
type issueCtxKey struct{}
type findingCtxKey struct{}

// maxIDLen bounds issue and finding identifiers.
const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// ScopeFromContext extracts the workspace/project scope from ctx.
func ScopeFromContext(ctx context.Context) (pattern.Scope, bool) {
	if s, ok := ctx.Value(scopeCtxKey{}).(pattern.Scope); ok {
		return s, true
	}
	return pattern.Scope{}, false
}

// WithScope stores the workspace/project scope in ctx.
// Panics if the scope fails validation.
func WithScope(ctx context.Context, scope pattern.Scope) context.Context {
	if err := scope.Validate(); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, scopeCtxKey{}, scope)
}

// IssueIDFromContext extracts the issue ID from ctx, or "".
func IssueIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(issueCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithIssueID stores the issue ID in ctx.
// Panics if issueID is empty or contains invalid characters.
func WithIssueID(ctx context.Context, issueID string) context.Context {
	if err := validateID(issueID, "issueID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, issueCtxKey{}, issueID)
}

// FindingIDFromContext extracts the finding ID from ctx, or "".
func FindingIDFromContext(ctx context.Context) string {
	if f, ok := ctx.Value(findingCtxKey{}).(string); ok {
		return f
	}
	return ""
}

// WithFindingID stores the finding ID in ctx.
// Panics if findingID is empty or contains invalid characters.
func WithFindingID(ctx context.Context, findingID string) context.Context {
	if err := validateID(findingID, "findingID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, findingCtxKey{}, findingID)
}
