package legal

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/lexgraph/graph/model"
	"github.com/dshills/lexgraph/security"
)

// evaluatorStep runs the three safety oracles concurrently. When PII is
// found the answer is replaced by its redacted form.
//
// An empty answer (the generator failed) is judged unsafe without consulting
// the oracles so the session goes to human review.
func evaluatorStep(guard security.PromptGuard, grounded security.GroundednessOracle, pii security.PIIScanner) stepFunc {
	return func(ctx context.Context, s State) (Update, error) {
		answer := s.Answer
		if strings.TrimSpace(answer) == "" {
			return Update{Safety: &Safety{}}, nil
		}

		var (
			safety Safety
			scan   security.PIIResult
			g      errgroup.Group
		)
		g.Go(func() error {
			safety.Secured = guard.IsSecured(ctx, []model.Message{model.Assistant(answer)})
			return nil
		})
		g.Go(func() error {
			safety.Grounded = grounded.IsGrounded(ctx, s.RetrievedDocs, answer)
			return nil
		})
		g.Go(func() error {
			scan = pii.Scan(ctx, answer)
			return nil
		})
		_ = g.Wait()

		safety.HasPII = scan.HasPII
		u := Update{Safety: &safety}
		if scan.HasPII && scan.Redacted != "" {
			u.Answer = ptr(scan.Redacted)
		}
		return u, nil
	}
}
