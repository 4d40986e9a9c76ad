package transcribe

import "fmt"

// buildSegmentPrompt constructs the position-aware instruction for one segment.
// Wording varies by position: single-segment jobs get a plain instruction,
// the opening segment announces that more audio follows, and later segments
// embed the previous transcription so the model keeps narrative continuity.
func buildSegmentPrompt(index, totalCount int, previousContext string) string {
	number := index + 1

	if totalCount == 1 {
		return "Give a thorough description of the audio."
	}

	if index == 0 {
		return fmt.Sprintf(
			"Give a thorough description of the chunked audio. "+
				"You are currently listening to part %d/%d "+
				"meaning it will abruptly end and may lack some context. "+
				"The rest of the audio will be described in a later API request "+
				"and concatenated to this response.",
			number, totalCount,
		)
	}

	if index == totalCount-1 {
		if totalCount == 2 {
			return fmt.Sprintf(
				"Give a thorough description of the chunked audio. "+
					"You are currently listening to the final chunk meaning it will "+
					"abruptly start and may lack some context. "+
					"Continue from where the previous request left off and note that "+
					"certain basic details (like initial audio quality) have already "+
					"been described. Full context: %s",
				previousContext,
			)
		}
		return fmt.Sprintf(
			"Give a thorough description of the chunked audio. "+
				"You are currently listening to the final chunk "+
				"(part %d/%d) meaning it will abruptly "+
				"start and may lack some context. Continue from where the previous "+
				"request left off and note that certain basic details have already "+
				"been described. Full context: %s",
			number, totalCount, previousContext,
		)
	}

	return fmt.Sprintf(
		"Give a thorough description of the chunked audio. "+
			"You are currently listening to part %d/%d "+
			"meaning it will abruptly start/end and may lack some context. "+
			"Continue from where the previous request left off and note that "+
			"certain basic details have already been described. "+
			"Full context: %s",
		number, totalCount, previousContext,
	)
}
