package alert

import "anchorwatch/internal/domain"

// Night window in UTC, inclusive on both boundary hours. Non-critical
// alerts avoid waking recipients inside it.
const (
	nightStartHourUTC = 22
	nightEndHourUTC   = 6
)

func isNightUTC(hourUTC int) bool {
	return hourUTC >= nightStartHourUTC || hourUTC <= nightEndHourUTC
}

// SelectChannels maps (priority, UTC hour) to delivery channels. The
// table is a deliberate policy: only CRITICAL alerts page every channel
// at night.
func SelectChannels(p domain.Priority, hourUTC int) []domain.Channel {
	switch p {
	case domain.PriorityCritical:
		return []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelWhatsApp}
	case domain.PriorityHigh:
		if isNightUTC(hourUTC) {
			return []domain.Channel{domain.ChannelEmail}
		}
		return []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}
	case domain.PriorityMedium:
		return []domain.Channel{domain.ChannelEmail, domain.ChannelWhatsApp}
	default:
		return []domain.Channel{domain.ChannelEmail}
	}
}

// deadlineCriticalHours: a deadline alert at or under this threshold is
// treated as CRITICAL regardless of the document's own priority.
const deadlineCriticalHours = 6

// priorityFor is the fixed trigger-type to priority table.
func priorityFor(t domain.TriggerType, meta domain.TriggerMetadata) domain.Priority {
	switch t {
	case domain.TriggerDocumentMissing, domain.TriggerDocumentOverdue:
		return domain.PriorityCritical
	case domain.TriggerDocumentDeadline:
		if m, ok := meta.(domain.DocumentDeadlineMeta); ok && m.ThresholdHours <= deadlineCriticalHours {
			return domain.PriorityCritical
		}
		return domain.PriorityHigh
	case domain.TriggerProximity, domain.TriggerCongestion, domain.TriggerETAChange:
		return domain.PriorityHigh
	case domain.TriggerCostAnomaly:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}
