package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// baselineConfidence is the fixed confidence every seeded guardrail carries.
// Baselines are permanent, so the decay sweep never touches it.
const baselineConfidence = 0.9

// baselineSeed is one fixed guardrail principle. Seeds are identified by the
// reserved "baseline:<slug>" promotion key, which keeps them out of the
// sha256 keyspace derived principles use.
type baselineSeed struct {
	slug      string
	text      string
	rationale string
	severity  evidence.Severity
	touches   pattern.TouchSet
}

// buildBaselineSeeds returns the 11 fixed guardrail principles every
// workspace starts with. The set is deliberately small and generic: these are
// the security rules worth injecting before any evidence has accumulated.
func buildBaselineSeeds() []baselineSeed {
	return []baselineSeed{
		// --- Injection and untrusted input ---
		{
			slug:      "parameterized-sql",
			text:      "Use parameterized queries or prepared statements for every database access; never interpolate untrusted input into SQL.",
			rationale: "SQL injection remains one of the most exploited defect classes, and string-built queries are its sole cause.",
			severity:  evidence.SeverityCritical,
			touches:   pattern.TouchSet{pattern.TouchDatabase, pattern.TouchUserInput},
		},
		{
			slug:      "validate-untrusted-input",
			text:      "Validate and normalize all untrusted input at the service boundary before it reaches business logic.",
			rationale: "Inner layers assume well-formed data; boundary validation is the only place that assumption can be established.",
			severity:  evidence.SeverityHigh,
			touches:   pattern.TouchSet{pattern.TouchAPI, pattern.TouchUserInput},
		},
		{
			slug:      "encode-output",
			text:      "Encode or escape user-controlled data before rendering it into HTML, shell commands, or any other interpreter.",
			rationale: "Cross-site scripting and command injection both come from emitting raw user data into an interpreted context.",
			severity:  evidence.SeverityHigh,
			touches:   pattern.TouchSet{pattern.TouchAPI, pattern.TouchUserInput},
		},

		// --- Secrets and credentials ---
		{
			slug:      "no-hardcoded-secrets",
			text:      "Never hardcode credentials, tokens, or API keys; load them from a secret store or the environment at runtime.",
			rationale: "Secrets committed to source outlive every rotation and every access review.",
			severity:  evidence.SeverityCritical,
			touches:   pattern.TouchSet{pattern.TouchConfig},
		},
		{
			slug:      "no-secrets-in-logs",
			text:      "Never write credentials, tokens, session identifiers, or personal data to logs; scrub or redact before emitting.",
			rationale: "Log pipelines have broader read access and longer retention than any production datastore.",
			severity:  evidence.SeverityHigh,
			touches:   pattern.TouchSet{pattern.TouchLogging},
		},
		{
			slug:      "rotate-credentials",
			text:      "Support credential rotation without downtime; never bake long-lived static credentials into a deployment.",
			rationale: "A credential that cannot be rotated cannot be revoked after exposure.",
			severity:  evidence.SeverityHigh,
			touches:   pattern.TouchSet{pattern.TouchAuth, pattern.TouchConfig},
		},

		// --- Authentication and authorization ---
		{
			slug:      "authorize-every-operation",
			text:      "Enforce an authorization check on every operation; never rely on the caller or the UI to pre-filter requests.",
			rationale: "Broken object-level authorization is a direct consequence of trusting upstream filtering.",
			severity:  evidence.SeverityCritical,
			touches:   pattern.TouchSet{pattern.TouchAPI, pattern.TouchAuthz},
		},
		{
			slug:      "fail-closed-on-auth-errors",
			text:      "Treat authentication and authorization failures as denials; never fall through to an allow path on error.",
			rationale: "An exception path that grants access converts every transient fault into a bypass.",
			severity:  evidence.SeverityHigh,
			touches:   pattern.TouchSet{pattern.TouchAuth, pattern.TouchAuthz},
		},
		{
			slug:      "least-privilege",
			text:      "Grant every component the minimum privileges it needs; prefer narrowly scoped credentials over shared admin accounts.",
			rationale: "Privilege breadth sets the blast radius of any single compromised component.",
			severity:  evidence.SeverityHigh,
			touches:   pattern.TouchSet{pattern.TouchAuthz, pattern.TouchDatabase},
		},

		// --- Supply chain and cryptography ---
		{
			slug:      "vetted-crypto-only",
			text:      "Use maintained, vetted cryptographic libraries; never design or implement custom cryptographic primitives.",
			rationale: "Homegrown cryptography fails in ways its author cannot test for.",
			severity:  evidence.SeverityHigh,
			touches:   pattern.TouchSet{pattern.TouchAuth},
		},
		{
			slug:      "pin-dependencies",
			text:      "Pin dependency versions and verify checksums; never float production builds on unpinned version ranges.",
			rationale: "Unpinned ranges hand release control of your build to every upstream maintainer at once.",
			severity:  evidence.SeverityHigh,
			touches:   pattern.TouchSet{pattern.TouchConfig},
		},
	}
}

// baselinePromotionKey returns the reserved promotion key for a seed slug.
func baselinePromotionKey(slug string) string {
	return "baseline:" + slug
}

// SeedBaselines inserts the fixed guardrail principles for a workspace,
// skipping any already present. Safe to call repeatedly; returns how many
// rows this call inserted.
func (s *service) SeedBaselines(ctx context.Context, workspaceID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.seed_baselines")
	defer span.End()

	span.SetAttributes(attribute.String("workspace_id", workspaceID))

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	seeded := 0
	for _, seed := range buildBaselineSeeds() {
		key := baselinePromotionKey(seed.slug)

		_, err := s.store.ActivePrincipleByKey(ctx, workspaceID, key)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, pattern.ErrNotFound):
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return seeded, fmt.Errorf("failed to look up baseline %s: %w", seed.slug, err)
		}

		principle := Principle{
			ID:           uuid.New().String(),
			WorkspaceID:  workspaceID,
			Origin:       OriginBaseline,
			PromotionKey: key,
			Text:         seed.text,
			Rationale:    seed.rationale,
			Category:     evidence.CategorySecurity,
			Severity:     seed.severity,
			Touches:      seed.touches,
			InjectInto:   pattern.InjectBoth,
			Confidence:   baselineConfidence,
			Permanent:    true,
			Status:       PrincipleActive,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.store.InsertPrinciple(ctx, principle); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return seeded, fmt.Errorf("failed to seed baseline %s: %w", seed.slug, err)
		}
		seeded++
	}

	span.SetAttributes(attribute.Int("seeded", seeded))
	s.logger.Info("baseline principles seeded",
		zap.String("workspace_id", workspaceID),
		zap.Int("inserted", seeded),
	)
	return seeded, nil
}
