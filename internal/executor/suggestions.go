package executor

// MergeSuggestedParameters applies a verifier's suggested_parameters onto a
// step's existing parameters additively: it only ever adds or overwrites
// individual keys, never removes one, and never replaces a non-empty
// "attachments" list with an empty one (spec §4.7's additive-merge-only
// rule, so a warn-level verification can't silently drop an attachment the
// plan validator injected).
func MergeSuggestedParameters(existing map[string]any, suggested map[string]any) map[string]any {
	if len(suggested) == 0 {
		return existing
	}
	out := make(map[string]any, len(existing)+len(suggested))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range suggested {
		if k == "attachments" {
			if list, ok := v.([]any); ok && len(list) == 0 {
				if existingList, ok := existing["attachments"].([]any); ok && len(existingList) > 0 {
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}
