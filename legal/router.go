package legal

func routeAfterDispatcher(s State) (string, error) {
	if s.NextNode == "" {
		return "", contractViolation("dispatcher did not choose a next node")
	}
	return s.NextNode, nil
}

// routeAfterVerifier retries the target until it verifies or its circuit
// trips. A tripped circuit wins over a fresh failure.
func routeAfterVerifier(s State) (string, error) {
	target := s.VerifyTarget
	if target == "" {
		return "", contractViolation("verifier ran without a verify target")
	}
	if s.Circuit.IsOverLimit(target) {
		return Dispatcher, nil
	}
	if !s.Verified {
		return target, nil
	}
	return Dispatcher, nil
}

func routeAfterEvaluator(s State) (string, error) {
	if s.Safety == nil {
		return "", contractViolation("evaluator produced no safety verdict")
	}
	if s.Safety.Safe() {
		return Dispatcher, nil
	}
	return HumanReviewer, nil
}

func routeAfterHumanReview(s State) (string, error) {
	switch s.HumanFeedback.Action {
	case ActionReplan:
		return Planner, nil
	case ActionRewrite:
		return Generator, nil
	case ActionApprove:
		return Dispatcher, nil
	default:
		return "", contractViolation("unknown human action %q", s.HumanFeedback.Action)
	}
}
