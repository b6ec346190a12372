package inspect

import "github.com/agentify/agentifyd/pkg/models"

// Classify derives the blocked flag and challenge kind from raw page
// indicators plus composer visibility. Precedence when several
// conditions hold: captcha/verification, then login, then blocked. A
// login-like page with no visible composer counts as blocked even if
// nothing else matched.
func Classify(ind models.ChallengeIndicators, promptVisible bool) (bool, models.ChallengeKind) {
	verification := ind.HasTurnstile || ind.HasArkose || ind.HasVerifyButton
	blocked := verification || ind.Looks403 || (ind.LoginLike && !promptVisible)

	switch {
	case verification:
		return blocked, models.ChallengeCaptcha
	case ind.LoginLike:
		return blocked, models.ChallengeLogin
	case ind.Looks403:
		return blocked, models.ChallengeBlocked
	default:
		return blocked, models.ChallengeNone
	}
}
