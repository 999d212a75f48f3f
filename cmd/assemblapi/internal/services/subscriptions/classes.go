package subscriptions

import (
	"slices"
	"strings"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

// Subscription classes that are global to a discussion. These are the only
// classes templates carry and users receive by default.
const (
	ClassFollowSyntheses                = "FOLLOW_SYNTHESES"
	ClassFollowAllMessages              = "FOLLOW_ALL_MESSAGES"
	ClassFollowOwnMessagesDirectReplies = "FOLLOW_OWN_MESSAGES_DIRECT_REPLIES"
	ClassFollowOwnMessagesNestedReplies = "FOLLOW_OWN_MESSAGES_NESTED_REPLIES"
)

var applicableClasses = []string{
	ClassFollowAllMessages,
	ClassFollowOwnMessagesDirectReplies,
	ClassFollowOwnMessagesNestedReplies,
	ClassFollowSyntheses,
}

// ApplicableClasses returns the sorted discussion-global classes.
func ApplicableClasses() []string {
	return slices.Clone(applicableClasses)
}

// IsApplicable reports whether class is a discussion-global class.
func IsApplicable(class string) bool {
	return slices.Contains(applicableClasses, class)
}

// missingClasses returns the applicable classes absent from subs.
func missingClasses(subs []*models.NotificationSubscription) []string {
	have := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		have[sub.Class] = struct{}{}
	}
	var missing []string
	for _, class := range applicableClasses {
		if _, ok := have[class]; !ok {
			missing = append(missing, class)
		}
	}
	return missing
}

// ParseStatus maps a user-supplied status to a stored one. Anything but
// active is an explicit opt-out.
func ParseStatus(status string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionActive:
		return models.SubscriptionActive, true
	case "inactive", models.SubscriptionInactiveExplicit, models.SubscriptionInactiveDefault:
		return models.SubscriptionInactiveExplicit, true
	default:
		return "", false
	}
}

func sortByClass(subs []*models.NotificationSubscription) {
	slices.SortFunc(subs, func(a, b *models.NotificationSubscription) int {
		return strings.Compare(a.Class, b.Class)
	})
}
