package models

// Group is a set of users the classifier judged to share a theme.
type Group []string

// ClassificationResult is either a list of groups or a failure reason.
type ClassificationResult struct {
	Groups  []Group `json:"groups,omitempty"`
	Failure string  `json:"failure,omitempty"`
}

// Grouped builds a successful result.
func Grouped(groups []Group) ClassificationResult {
	return ClassificationResult{Groups: groups}
}

// ClassificationFailed builds a failed result.
func ClassificationFailed(reason string) ClassificationResult {
	if reason == "" {
		reason = "classification failed"
	}
	return ClassificationResult{Failure: reason}
}

// Failed reports whether classification produced no usable answer.
func (r ClassificationResult) Failed() bool {
	return r.Failure != ""
}

// ValidGroups returns the groups with at least minSize distinct, non-empty
// members. Member order is preserved; duplicates keep their first position.
func (r ClassificationResult) ValidGroups(minSize int) []Group {
	if r.Failed() {
		return nil
	}
	valid := make([]Group, 0, len(r.Groups))
	for _, g := range r.Groups {
		seen := make(map[string]struct{}, len(g))
		members := make(Group, 0, len(g))
		for _, id := range g {
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			members = append(members, id)
		}
		if len(members) >= minSize {
			valid = append(valid, members)
		}
	}
	return valid
}

// ChannelMetadata is the generated name and opening text for a group channel.
type ChannelMetadata struct {
	ChannelName    string `json:"channel_name"`
	InitialMessage string `json:"initial_message"`
	CallToAction   string `json:"call_to_action"`
}

// FinalizeSummary reports the outcome of finalizing one event.
type FinalizeSummary struct {
	EventID         int64    `json:"event_id"`
	Success         bool     `json:"success"`
	GroupsCreated   int      `json:"groups_created"`
	ChannelsCreated []string `json:"channels_created"`
	Errors          []string `json:"errors"`
}
